package conversations

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/repair-bot/internal/dialog"
)

func TestStatusFor(t *testing.T) {
	t.Parallel()
	cases := map[dialog.Step]Status{
		dialog.StepGreeting:         StatusActive,
		dialog.StepAwaitingDecision: StatusActive,
		dialog.StepCompleted:        StatusCompleted,
		dialog.StepAbandoned:        StatusAbandoned,
		dialog.StepEscalated:        StatusEscalated,
	}
	for step, want := range cases {
		assert.Equal(t, want, StatusFor(step), step)
	}
}

func TestApply(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	key := Key{ShopID: uuid.New(), Channel: ChannelTelegram, ExternalUserID: "7"}
	c := New(key, "7", start)
	assert.Equal(t, key, c.Key())
	assert.Equal(t, StatusActive, c.Status)

	st := c.State
	st.Step = dialog.StepCollectingDevice
	c.Apply(st, start.Add(time.Minute))
	assert.Equal(t, StatusActive, c.Status)
	assert.Nil(t, c.CompletedAt)

	st.Step = dialog.StepEscalated
	c.Apply(st, start.Add(2*time.Minute))
	assert.Equal(t, StatusEscalated, c.Status)
	require.NotNil(t, c.CompletedAt)
	assert.Equal(t, start.Add(2*time.Minute), *c.CompletedAt)
}

func TestMetaRoundTrip(t *testing.T) {
	t.Parallel()
	st := dialog.NewState()
	st.Confidence[dialog.FieldBrand] = 0.8
	st.Skipped = []dialog.Field{dialog.FieldModel}
	st.Retries = 1
	st.LastPrompt = dialog.Prompt{Text: "Какая модель?", Actions: []dialog.Action{{Label: "Не знаю", Field: dialog.FieldModel, Value: dialog.SkipValue}}}

	raw, err := encodeMeta(st)
	require.NoError(t, err)

	var got dialog.State
	require.NoError(t, decodeMeta(raw, &got))
	assert.Equal(t, st.Confidence, got.Confidence)
	assert.Equal(t, st.Skipped, got.Skipped)
	assert.Equal(t, st.Retries, got.Retries)
	assert.Equal(t, st.LastPrompt, got.LastPrompt)
}
