package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeJSON(t *testing.T) {
	t.Parallel()

	env := NewEnvelope("lead.created", "conv-1", map[string]string{"lead_id": "42"})
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "lead.created", got["meta"]["type"])
	assert.Equal(t, "conv-1", got["meta"]["correlation_id"])
	assert.Equal(t, producer, got["meta"]["producer"])
	assert.NotEmpty(t, got["meta"]["id"])
	assert.Equal(t, "42", got["data"]["lead_id"])
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var r Recorder
	require.NoError(t, r.Publish(context.Background(), "lead.created", NewEnvelope("lead.created", "", nil)))
	require.NoError(t, r.Publish(context.Background(), "lead.updated", NewEnvelope("lead.updated", "", nil)))
	require.NoError(t, r.Publish(context.Background(), "lead.updated", NewEnvelope("lead.updated", "", nil)))

	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.ByKey("lead.updated"), 2)
}

type failing struct{ closed bool }

func (f *failing) Publish(context.Context, string, Envelope) error {
	return errors.New("broker down")
}

func (f *failing) Close() error {
	f.closed = true
	return nil
}

func TestMulti(t *testing.T) {
	t.Parallel()

	var rec Recorder
	bad := &failing{}
	m := Multi{bad, &rec}

	err := m.Publish(context.Background(), "lead.created", NewEnvelope("lead.created", "", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, rec.Events(), 1, "second publisher still receives the event")

	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
}
