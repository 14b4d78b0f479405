package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFallbackIsDeterministic(t *testing.T) {
	t.Parallel()

	fallback := NewFallback()
	req := Request{
		RunID:        "run-1",
		Verdict:      "REVIEW_REQUIRED",
		BlendedScore: 51.8,
		Action:       "REVOKE_APPROVAL",
		Reasons:      []string{"授权额度无上限", "spender 在风险名单中"},
	}

	first, err := fallback.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("explain failed: %v", err)
	}
	second, _ := fallback.Explain(context.Background(), req)
	if first.Summary != second.Summary {
		t.Fatalf("fallback narrative must be deterministic")
	}
	if !strings.Contains(first.Summary, "REVIEW_REQUIRED") {
		t.Fatalf("narrative should mention verdict: %s", first.Summary)
	}
	if !strings.Contains(first.Summary, "授权额度无上限") {
		t.Fatalf("narrative should mention reasons: %s", first.Summary)
	}
}

func TestNewOpenAIClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAIClient(OpenAIConfig{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestOpenAIExplainSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": "该操作触发了无上限授权规则，建议撤销。",
					},
				},
			},
		})
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	narrative, err := client.Explain(context.Background(), Request{RunID: "run-1", Verdict: "BLOCK"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(narrative.Summary, "撤销") {
		t.Fatalf("unexpected narrative: %s", narrative.Summary)
	}
	if captured.Authorization != "Bearer test" {
		t.Fatalf("unexpected auth header: %s", captured.Authorization)
	}
}

func TestOpenAIExplainServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Explain(context.Background(), Request{RunID: "run-1"}); err == nil {
		t.Fatalf("expected error on server failure")
	}
}
