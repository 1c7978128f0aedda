package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/repair-bot/internal/domain/catalog"
	"github.com/Spok95/repair-bot/internal/domain/pricing"
	"github.com/Spok95/repair-bot/internal/domain/shops"
	"github.com/Spok95/repair-bot/internal/infra/logger"
	"github.com/Spok95/repair-bot/internal/infra/memstore"
	"github.com/Spok95/repair-bot/internal/orchestrator"
)

func newTestServer(t *testing.T) (*httptest.Server, uuid.UUID) {
	t.Helper()
	log := logger.Discard()

	st := memstore.New()
	shopID := uuid.New()
	st.AddShop(shops.Shop{ID: shopID, Slug: "fixpro-moscow", Active: true, Settings: shops.DefaultSettings()})
	st.SetCatalog([]catalog.Category{{Slug: "smartphone", Name: "Смартфон", Active: true}}, nil)

	svc := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Shops:     st,
		Estimator: pricing.NewEstimator(st, log),
		Catalog:   st,
		Log:       log,
	})
	srv := httptest.NewServer(New(":0", true, svc, log).Handler())
	t.Cleanup(srv.Close)
	return srv, shopID
}

func post(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestInboundThenExtraction(t *testing.T) {
	srv, shopID := newTestServer(t)

	resp, in := post(t, srv.URL+"/v1/inbound", map[string]any{
		"shop_id": shopID, "external_user_id": "web-1", "text": "Разбил телефон",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "greeting", in["step"])
	convID := in["conversation_id"]

	resp, out := post(t, srv.URL+"/v1/extractions", map[string]any{
		"conversation_id":       convID,
		"fields":                map[string]string{"device_category": "smartphone"},
		"extraction_confidence": 0.9,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, convID, out["conversation_id"])
	assert.Equal(t, "collecting_device", out["step"])
	assert.NotEmpty(t, out["text"])

	resp, out = post(t, srv.URL+"/v1/extractions/timeout", map[string]any{"conversation_id": convID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "collecting_device", out["step"])
}

func TestHistory(t *testing.T) {
	srv, shopID := newTestServer(t)

	_, out := post(t, srv.URL+"/v1/messages", map[string]any{
		"shop_id": shopID, "external_user_id": "web-3", "text": "привет",
	})
	convID, _ := out["conversation_id"].(string)
	require.NotEmpty(t, convID)

	resp, err := http.Get(srv.URL + "/v1/conversations/" + convID + "/messages")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Messages []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "user", body.Messages[0].Role)
	assert.Equal(t, "привет", body.Messages[0].Text)
	assert.Equal(t, "assistant", body.Messages[1].Role)

	resp2, err := http.Get(srv.URL + "/v1/conversations/" + uuid.NewString() + "/messages")
	require.NoError(t, err)
	_ = resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestMessage(t *testing.T) {
	srv, shopID := newTestServer(t)

	resp, out := post(t, srv.URL+"/v1/messages", map[string]any{
		"shop_id": shopID, "external_user_id": "web-2", "text": "привет",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "collecting_device", out["step"])
}

func TestErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := post(t, srv.URL+"/v1/extractions", map[string]any{"fields": map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, srv.URL+"/v1/extractions", map[string]any{"conversation_id": uuid.New()})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = post(t, srv.URL+"/v1/inbound", map[string]any{"shop_id": uuid.New(), "external_user_id": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
