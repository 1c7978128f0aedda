package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/repair-bot/internal/dialog"
	"github.com/Spok95/repair-bot/internal/infra/logger"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want dialog.Extraction
	}{
		{
			name: "plain",
			raw:  `{"fields":{"device_brand":"Apple","device_model":"iPhone 13"},"confidence":0.9}`,
			want: dialog.Extraction{
				Fields:     map[dialog.Field]string{dialog.FieldBrand: "Apple", dialog.FieldModel: "iPhone 13"},
				Confidence: 0.9,
			},
		},
		{
			name: "fenced with correction",
			raw:  "```json\n{\"fields\":{\"device_model\":\"iPhone 14\"},\"confidence\":0.8,\"correction\":true}\n```",
			want: dialog.Extraction{
				Fields:     map[dialog.Field]string{dialog.FieldModel: "iPhone 14"},
				Confidence: 0.8,
				Correction: true,
			},
		},
		{
			name: "unknown and empty fields dropped, bool stringified",
			raw:  `{"fields":{"color":"red","customer_name":"  ","has_previous_repair":false},"confidence":1.7}`,
			want: dialog.Extraction{
				Fields:     map[dialog.Field]string{dialog.FieldPreviousRepair: "false"},
				Confidence: 1,
			},
		},
		{
			name: "leading chatter",
			raw:  `Вот результат: {"fields":{"intent":"human"},"confidence":0.7}`,
			want: dialog.Extraction{
				Fields:     map[dialog.Field]string{dialog.FieldIntent: "human"},
				Confidence: 0.7,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()
	_, err := Parse("не знаю")
	require.ErrorIs(t, err, ErrBadResponse)
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestClient_Extract(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(`{"fields":{"device_category":"smartphone"},"confidence":0.95}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/v1/", "gpt-4o-mini", logger.Discard())
	st := dialog.NewState()
	st.Step = dialog.StepCollectingDevice

	ext, err := c.Extract(context.Background(), "у меня телефон", st)
	require.NoError(t, err)
	assert.Equal(t, "smartphone", ext.Fields[dialog.FieldCategory])
	assert.InDelta(t, 0.95, ext.Confidence, 1e-9)

	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	msgs, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestClient_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL+"/v1/", "m", logger.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Extract(ctx, "привет", dialog.NewState())
	require.ErrorIs(t, err, ErrTimeout)
}

func TestKeyword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := Keyword{}

	st := dialog.NewState()
	ext, err := k.Extract(ctx, "Разбил айфон", st)
	require.NoError(t, err)
	assert.Equal(t, "smartphone", ext.Fields[dialog.FieldCategory])

	st.Step = dialog.StepCollectingDevice
	st.Facts.Request.DeviceCategory = "smartphone"
	ext, _ = k.Extract(ctx, "Samsung", st)
	assert.Equal(t, "Samsung", ext.Fields[dialog.FieldBrand])

	st.Step = dialog.StepCollectingProblem
	ext, _ = k.Extract(ctx, "не заряжается", st)
	assert.Equal(t, "не заряжается", ext.Fields[dialog.FieldProblem])

	st.Step = dialog.StepCollectingContact
	ext, _ = k.Extract(ctx, "+7 916 123-45-67", st)
	assert.Equal(t, "+7 916 123-45-67", ext.Fields[dialog.FieldPhone])

	st.Step = dialog.StepAwaitingDecision
	for text, want := range map[string]string{
		"Да, подходит":       dialog.DecisionAccept,
		"дороговато, дорого": dialog.DecisionRejectPrice,
		"давайте обсудим":    dialog.DecisionNegotiate,
		"нет, спасибо":       dialog.DecisionReject,
	} {
		ext, _ = k.Extract(ctx, text, st)
		assert.Equal(t, want, ext.Fields[dialog.FieldDecision], text)
	}

	ext, _ = k.Extract(ctx, "позовите оператора", st)
	assert.Equal(t, dialog.IntentHuman, ext.Fields[dialog.FieldIntent])
}

func TestKeyword_CategoryOnlyOnKnownWord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := Keyword{}

	for _, text := range []string{"Здравствуйте", "привет, мне нужна помощь"} {
		ext, err := k.Extract(ctx, text, dialog.NewState())
		require.NoError(t, err)
		assert.NotContains(t, ext.Fields, dialog.FieldCategory, text)
	}

	st := dialog.NewState()
	st.Step = dialog.StepCollectingDevice
	ext, err := k.Extract(ctx, "Здравствуйте", st)
	require.NoError(t, err)
	assert.Empty(t, ext.Fields)
}

func TestKeyword_FirstNamedDeviceWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for text, want := range map[string]string{
		"ноутбук и телефон":      "laptop",
		"телефон и ноутбук":      "smartphone",
		"приставка, часы, айпад": "console",
		"у сына сломался макбук": "laptop",
	} {
		for range 20 {
			ext, err := Keyword{}.Extract(ctx, text, dialog.NewState())
			require.NoError(t, err)
			require.Equal(t, want, ext.Fields[dialog.FieldCategory], text)
		}
	}
}
