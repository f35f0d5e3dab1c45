package decision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestOpenAIProvider_Success(t *testing.T) {
	var gotAuth string
	var gotBody openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{"message":{"content":"{\"chosenAlternativeId\":\"a\"}","images":[{"image_url":{"url":"data:image/png;base64,xx"}}]}}],
			"usage":{"prompt_tokens":12,"completion_tokens":4}
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Complete(context.Background(), Call{
		ModelID:   "gpt-test",
		Request:   Request{System: "sys", Messages: []Message{{Role: RoleUser, Content: "hi"}}},
		JSONMode:  true,
		MaxTokens: 50,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotAuth != "Bearer k" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-test" || gotBody.MaxTokens != 50 {
		t.Errorf("request = %+v", gotBody)
	}
	if gotBody.ResponseFormat == nil || gotBody.ResponseFormat.Type != "json_object" {
		t.Error("JSON mode should set response_format")
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", gotBody.Messages)
	}
	if res.Text() != `{"chosenAlternativeId":"a"}` {
		t.Errorf("content = %q", res.Text())
	}
	if len(res.Images) != 1 {
		t.Errorf("images = %v", res.Images)
	}
	if res.InputTokens != 12 || res.OutputTokens != 4 {
		t.Errorf("usage = %d/%d", res.InputTokens, res.OutputTokens)
	}
}

func TestOpenAIProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limited", 429, `{"error":{"message":"Slow down"}}`, KindRateLimit},
		{"context length", 400, `{"error":{"message":"This model's maximum context length is 8192 tokens"}}`, KindTokenLimit},
		{"bad model", 404, `{"error":{"message":"The model does not exist"}}`, KindUnsupportedModel},
		{"server error", 500, `oops`, KindProviderError},
		{"malformed success", 200, `not json`, KindProviderError},
		{"no choices", 200, `{"choices":[]}`, KindProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
			if err != nil {
				t.Fatal(err)
			}
			_, err = p.Complete(context.Background(), Call{ModelID: "m"})
			if got := KindOf(err); got != tt.want {
				t.Errorf("kind = %s, want %s (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestOpenAIProvider_RetriedThroughClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewClient(ClientConfig{
		Routes:    RouteTable{"x": {Provider: ProviderOpenAI, ModelID: "m"}},
		Providers: []Provider{p},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.InvokeModel(context.Background(), "x", Request{}, InvokeOptions{MaxRetries: 2})
	if KindOf(err) != KindProviderError {
		t.Errorf("kind = %s", KindOf(err))
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Error("expected error without API key")
	}
}
