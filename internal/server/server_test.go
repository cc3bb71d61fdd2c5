package server

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
	"go.uber.org/zap/zaptest"

	"github.com/contentive/orchestrator/internal/budget"
	"github.com/contentive/orchestrator/internal/circuitbreaker"
	"github.com/contentive/orchestrator/internal/engine"
	"github.com/contentive/orchestrator/internal/llm"
	"github.com/contentive/orchestrator/internal/models"
	"github.com/contentive/orchestrator/internal/pricing"
	"github.com/contentive/orchestrator/internal/prompt"
	"github.com/contentive/orchestrator/internal/schema"
	"github.com/contentive/orchestrator/internal/templates"
)

type cannedProvider struct {
	content string
}

func (p *cannedProvider) Name() string { return "fake" }

func (p *cannedProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: p.content, Model: req.Model, InputTokens: 80, OutputTokens: 40}, nil
}

func newTestServer(t *testing.T, authToken string) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)

	registry := templates.NewRegistry()
	require.NoError(t, registry.Register(&templates.Template{
		TaskType:        models.TaskTextContent,
		Version:         "1",
		Role:            "You are a copywriter.",
		RequiredContext: []string{"business_name", "topic"},
		Instructions:    "Write a post for {{business_name}} about {{topic}}.",
		ModelTier:       models.TierLight,
		MaxOutputTokens: 200,
		OutputSchema: schema.Schema{Fields: []schema.Field{
			{Name: "content", Type: schema.TypeString, Required: true},
		}},
	}))

	budgetMgr := budget.NewManager(budget.Config{DefaultLimit: 1_000_000}, nil, logger)
	tiers := map[string]llm.TierConfig{
		models.TierLight: {Provider: "fake", Model: "fake-mini", QPS: 1000},
	}
	client, err := llm.NewClient(tiers, []llm.Provider{&cannedProvider{content: `{"content": "A post."}`}},
		circuitbreaker.DefaultConfig(), logger)
	require.NoError(t, err)

	eng := engine.New(
		engine.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		registry, prompt.NewBuilder(nil), nil, budgetMgr, client,
		pricing.Default(), nil, logger,
	)
	return New(eng, registry, authToken, logger)
}

func doRequest(s *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

const validBody = `{
	"task_type": "text_content",
	"tenant_id": "tenant-1",
	"inputs": {"business_name": "Bluebird Bakery", "topic": "sourdough"}
}`

func TestGenerateSuccess(t *testing.T) {
	s := newTestServer(t, "")
	rec := doRequest(s, http.MethodPost, "/v1/generate", validBody, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "A post.", resp.Data["content"])
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 120, resp.Usage.Tokens)
}

func TestGenerateRejectsBadJSON(t *testing.T) {
	s := newTestServer(t, "")
	rec := doRequest(s, http.MethodPost, "/v1/generate", `{"task_type":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateRejectsMissingTenant(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"task_type": "text_content", "inputs": {}}`
	rec := doRequest(s, http.MethodPost, "/v1/generate", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant_id")
}

func TestGenerateRejectsUnknownTaskType(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"task_type": "poetry", "tenant_id": "t", "inputs": {}}`
	rec := doRequest(s, http.MethodPost, "/v1/generate", body, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp models.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.KindUnknownTaskType, resp.Error.Code)
}

func TestGenerateIncompleteContextIsUnprocessable(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"task_type": "text_content", "tenant_id": "t", "inputs": {"business_name": "B"}}`
	rec := doRequest(s, http.MethodPost, "/v1/generate", body, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp models.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.KindIncompleteContext, resp.Error.Code)
}

func TestGenerateMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, "")
	rec := doRequest(s, http.MethodGet, "/v1/generate", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(t, "secret")

	rec := doRequest(s, http.MethodPost, "/v1/generate", validBody, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	header := http.Header{"Authorization": []string{"Bearer secret"}}
	rec = doRequest(s, http.MethodPost, "/v1/generate", validBody, header)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTemplatesListing(t *testing.T) {
	s := newTestServer(t, "")
	rec := doRequest(s, http.MethodGet, "/v1/templates", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Templates []struct {
			TaskType string `json:"task_type"`
			Version  string `json:"version"`
		} `json:"templates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Templates, 1)
	assert.Equal(t, "text_content", body.Templates[0].TaskType)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "secret")
	// Health stays open even with auth enabled.
	rec := doRequest(s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
