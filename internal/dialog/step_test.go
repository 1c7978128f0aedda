package dialog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStep(t *testing.T) {
	t.Parallel()

	for _, s := range allSteps {
		got, err := ParseStep(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStep("adm_wh_menu")
	require.Error(t, err)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(StepGreeting, StepCollectingDevice))
	assert.True(t, CanTransition(StepAwaitingDecision, StepEscalated))
	assert.True(t, CanTransition(StepAwaitingDecision, StepReadyToEstimate))
	assert.True(t, CanTransition(StepCollectingProblem, StepAbandoned))

	assert.False(t, CanTransition(StepAwaitingDecision, StepGreeting))
	assert.False(t, CanTransition(StepCollectingDevice, StepReadyToEstimate))
	assert.False(t, CanTransition(StepEscalated, StepAwaitingDecision))
	assert.False(t, CanTransition(StepCompleted, StepEscalated))
}

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"0":        "0",
		"950":      "950",
		"3000":     "3\u00a0000",
		"1250000":  "1\u00a0250\u00a0000",
		"4999.5":   "4\u00a0999,50",
		"-1500.25": "-1\u00a0500,25",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatMoney(decimal.RequireFromString(in)), in)
	}

	assert.Equal(t, "от 3\u00a0000 до 5\u00a0000 ₽", FormatRange(decimal.NewFromInt(3000), decimal.NewFromInt(5000), "RUB"))
	assert.Equal(t, "990 $", FormatRange(decimal.NewFromInt(990), decimal.NewFromInt(990), "usd"))
}
