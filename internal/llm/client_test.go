package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testClient(t *testing.T, url, fallback string) *Client {
	t.Helper()
	return New(Options{
		APIKey:      "sk-test",
		Model:       "gpt-4o",
		URL:         url,
		FallbackURL: fallback,
		Logger:      slog.New(slog.DiscardHandler),
	})
}

func openAIReply(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return b
}

func TestCompleteOpenAIShape(t *testing.T) {
	var gotBody chatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write(openAIReply("Hello, Friend."))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL+"/v1/chat/completions", "")
	reply, err := c.Complete(context.Background(), "persona", "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "Hello, Friend." {
		t.Errorf("reply = %q", reply)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-4o" {
		t.Errorf("model = %q", gotBody.Model)
	}
	if gotBody.Temperature != 0.7 || gotBody.MaxTokens != 500 {
		t.Errorf("generation params = %v/%d", gotBody.Temperature, gotBody.MaxTokens)
	}
	if len(gotBody.Messages) != 2 ||
		gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "persona" ||
		gotBody.Messages[1].Role != "user" || gotBody.Messages[1].Content != "hi" {
		t.Errorf("messages = %+v", gotBody.Messages)
	}
}

func TestCompleteCustomBackendShape(t *testing.T) {
	var gotRaw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotRaw)
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "custom says hi"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL+"/generate", "")
	reply, err := c.Complete(context.Background(), "persona", "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "custom says hi" {
		t.Errorf("reply = %q", reply)
	}

	if gotRaw["text"] != "hi" {
		t.Errorf("custom payload = %v, want bare text", gotRaw)
	}
	if _, ok := gotRaw["messages"]; ok {
		t.Error("custom backend got full chat payload")
	}
}

func TestCompleteTextField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "plain text reply"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL+"/generate", "")
	reply, err := c.Complete(context.Background(), "persona", "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "plain text reply" {
		t.Errorf("reply = %q", reply)
	}
}

func TestComplete404RetriesFallbackOnce(t *testing.T) {
	var primaryCalls, fallbackCalls int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls++
		http.NotFound(w, r)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls++
		w.Write(openAIReply("from fallback"))
	}))
	defer fallback.Close()

	c := testClient(t, primary.URL+"/v1/chat/completions", fallback.URL+"/v1/chat/completions")
	reply, err := c.Complete(context.Background(), "persona", "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "from fallback" {
		t.Errorf("reply = %q", reply)
	}
	if primaryCalls != 1 || fallbackCalls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primaryCalls, fallbackCalls)
	}
}

func TestComplete404NoFallbackConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL+"/v1/chat/completions", "")
	_, err := c.Complete(context.Background(), "persona", "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCompleteServerErrorUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL+"/v1/chat/completions", "")
	_, err := c.Complete(context.Background(), "persona", "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCompleteNetworkErrorUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := testClient(t, srv.URL+"/v1/chat/completions", "")
	_, err := c.Complete(context.Background(), "persona", "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCompleteNoAPIKey(t *testing.T) {
	c := New(Options{Logger: slog.New(slog.DiscardHandler)})
	if c.Available() {
		t.Error("Available = true with no key")
	}
	_, err := c.Complete(context.Background(), "persona", "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
