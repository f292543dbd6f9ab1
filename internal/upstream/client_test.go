package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripwise/relay/internal/config"
	"github.com/tripwise/relay/internal/metrics"
	"github.com/tripwise/relay/internal/models"
	"github.com/tripwise/relay/internal/oauth"
	"go.uber.org/zap"
)

func testConfig(baseURL string, timeout time.Duration) config.UpstreamConfig {
	return config.UpstreamConfig{
		BaseURL:        baseURL,
		DeploymentName: "gpt-4o",
		APIVersion:     "2024-02-15-preview",
		APIKey:         "test-key",
		UserAgent:      "tripwise-test",
		Timeout:        timeout,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration, collector *metrics.Collector) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL, timeout)
	return NewClient(cfg, oauth.NewAPIKey(cfg.APIKey), zap.NewNop(), collector)
}

func sampleRequest() *models.CompletionRequest {
	return &models.CompletionRequest{
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "You are a helpful travel planner assistant."},
			{Role: models.RoleUser, Content: "Plan a day in Rome"},
		},
		MaxTokens:   2000,
		Temperature: 0.2,
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestSend_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-02-15-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body models.CompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 2000, body.MaxTokens)
		assert.Equal(t, 0.2, body.Temperature)
		if assert.Len(t, body.Messages, 2) {
			assert.Equal(t, models.RoleSystem, body.Messages[0].Role)
			assert.Equal(t, "Plan a day in Rome", body.Messages[1].Content)
		}

		writeJSON(w, http.StatusOK, `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"Ciao!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`)
	}, time.Second, nil)

	resp, err := client.Send(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Ciao!", resp.Choices[0].Message.Content)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestSend_ProviderErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"error":{"code":"401","message":"Access denied due to invalid subscription key."}}`)
	}, time.Second, nil)

	_, err := client.Send(context.Background(), sampleRequest())
	require.Error(t, err)

	var uerr *Error
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, KindStatus, uerr.Kind)
	assert.Equal(t, http.StatusUnauthorized, uerr.StatusCode)
	assert.Equal(t, "401", uerr.Code)
	assert.Equal(t, "Access denied due to invalid subscription key.", uerr.Message)
	assert.Contains(t, uerr.Body, "invalid subscription key")
}

func TestSend_ServerErrorWithoutBody(t *testing.T) {
	var hits int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, time.Second, nil)

	_, err := client.Send(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, KindStatus, KindOf(err))
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "failures must not be retried")
}

func TestSend_Timeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond, nil)

	start := time.Now()
	_, err := client.Send(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSend_CallerCancellation(t *testing.T) {
	var hits int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusOK, `{"choices":[]}`)
	}, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Send(ctx, sampleRequest())
	require.Error(t, err)
	assert.Equal(t, KindCanceled, KindOf(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestSend_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := testConfig(url, time.Second)
	client := NewClient(cfg, oauth.NewAPIKey(cfg.APIKey), zap.NewNop(), nil)

	_, err := client.Send(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestSend_MalformedEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `<html>gateway</html>`)
	}, time.Second, nil)

	_, err := client.Send(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))
}

func TestSend_InvalidRequest(t *testing.T) {
	var hits int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}, time.Second, nil)

	cases := map[string]*models.CompletionRequest{
		"nil":          nil,
		"no messages":  {MaxTokens: 10, Temperature: 0.2},
		"zero tokens":  {Messages: []models.Message{{Role: "user", Content: "x"}}, Temperature: 0.2},
		"hot":          {Messages: []models.Message{{Role: "user", Content: "x"}}, MaxTokens: 10, Temperature: 2.5},
		"missing role": {Messages: []models.Message{{Content: "x"}}, MaxTokens: 10},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := client.Send(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestSend_RecordsMetrics(t *testing.T) {
	collector := metrics.NewCollector(config.MetricsConfig{Namespace: "tripwise"}, nil)

	fail := int32(0)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&fail, 1) > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}, time.Second, collector)

	_, err := client.Send(context.Background(), sampleRequest())
	require.NoError(t, err)
	_, err = client.Send(context.Background(), sampleRequest())
	require.Error(t, err)

	count, err := testutil.GatherAndCount(collector.Registry(), "tripwise_upstream_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(collector.Registry(), "tripwise_upstream_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func entraAuth(tokenURL string) oauth.Authenticator {
	return oauth.NewClientCredentials(config.AuthConfig{
		ClientID:     "client-1",
		ClientSecret: "s3cret",
		TokenURL:     tokenURL,
	}, zap.NewNop())
}

func TestSend_SlowTokenEndpointTimesOut(t *testing.T) {
	var completions int32
	release := make(chan struct{})
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer tokens.Close()
	defer close(release)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&completions, 1)
		writeJSON(w, http.StatusOK, `{"choices":[]}`)
	}))
	defer provider.Close()

	cfg := testConfig(provider.URL, 100*time.Millisecond)
	client := NewClient(cfg, entraAuth(tokens.URL), zap.NewNop(), nil)

	start := time.Now()
	_, err := client.Send(context.Background(), sampleRequest())

	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(0), atomic.LoadInt32(&completions))
}

func TestSend_TokenRejectedIsAuth(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"error":"invalid_client"}`)
	}))
	defer tokens.Close()

	cfg := testConfig("http://127.0.0.1:1", time.Second)
	client := NewClient(cfg, entraAuth(tokens.URL), zap.NewNop(), nil)

	_, err := client.Send(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestSend_EntraBearerToken(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"access_token":"entra-token","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokens.Close()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer entra-token", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("api-key"))
		writeJSON(w, http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer provider.Close()

	cfg := testConfig(provider.URL, time.Second)
	client := NewClient(cfg, entraAuth(tokens.URL), zap.NewNop(), nil)

	resp, err := client.Send(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
}
