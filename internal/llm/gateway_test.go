package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeCompleter struct {
	calls int
	fn    func(call int, req Request) (string, error)
}

func (f *fakeCompleter) Complete(_ context.Context, req Request) (string, error) {
	f.calls++
	return f.fn(f.calls, req)
}

func newTestGateway(c Completer, maxRetries int, policy bool) *Gateway {
	g := NewGateway(c, maxRetries, policy, zap.NewNop())
	g.backoff = func(int) time.Duration { return 0 }
	return g
}

func TestGateway_RetriesEmptyResponse(t *testing.T) {
	fake := &fakeCompleter{fn: func(call int, _ Request) (string, error) {
		if call == 1 {
			return "   ", nil
		}
		return "second time works", nil
	}}
	g := newTestGateway(fake, 3, false)

	got, err := g.Complete(context.Background(), Request{Prompt: "p", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "second time works" {
		t.Errorf("got %q", got)
	}
	if fake.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", fake.calls)
	}
}

func TestGateway_RetriesRefusal(t *testing.T) {
	fake := &fakeCompleter{fn: func(call int, _ Request) (string, error) {
		if call == 1 {
			return "I cannot help with that request.", nil
		}
		return "Paris is the capital of France.", nil
	}}
	g := newTestGateway(fake, 3, false)

	got, err := g.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !strings.Contains(got, "Paris") {
		t.Errorf("got %q", got)
	}
	if fake.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", fake.calls)
	}
}

func TestGateway_ExhaustionUsesAllAttempts(t *testing.T) {
	fake := &fakeCompleter{fn: func(int, Request) (string, error) {
		return "As an AI, I cannot answer questions about current events.", nil
	}}
	g := newTestGateway(fake, 3, false)

	_, err := g.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if fake.calls != 3 {
		t.Errorf("max_retries=3 must mean 3 total attempts, got %d", fake.calls)
	}

	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("expected UnavailableError, got %T", err)
	}
	if !strings.Contains(unavail.LastResponse, "As an AI") {
		t.Errorf("LastResponse should carry the final raw output, got %q", unavail.LastResponse)
	}
}

func TestGateway_SingleAttemptWhenConfigured(t *testing.T) {
	fake := &fakeCompleter{fn: func(int, Request) (string, error) {
		return "", errors.New("boom")
	}}
	g := newTestGateway(fake, 1, false)

	if _, err := g.Complete(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
	if fake.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", fake.calls)
	}
}

func TestGateway_AuthErrorNotRetried(t *testing.T) {
	fake := &fakeCompleter{fn: func(int, Request) (string, error) {
		return "", &APIError{Status: 401, Body: "invalid key"}
	}}
	g := newTestGateway(fake, 3, false)

	_, err := g.Complete(context.Background(), Request{Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.calls != 1 {
		t.Errorf("auth failures must not be retried, got %d attempts", fake.calls)
	}
	if !IsAuthError(err) {
		t.Errorf("IsAuthError should see the 401 through the wrap chain: %v", err)
	}
}

func TestGateway_PolicyPreamble(t *testing.T) {
	var seen string
	fake := &fakeCompleter{fn: func(_ int, req Request) (string, error) {
		seen = req.Prompt
		return "ok", nil
	}}

	g := newTestGateway(fake, 1, true)
	if _, err := g.Complete(context.Background(), Request{Prompt: "the question"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !strings.HasPrefix(seen, "SYSTEM POLICY") {
		t.Errorf("policy preamble missing from prompt: %q", seen)
	}
	if !strings.HasSuffix(seen, "the question") {
		t.Errorf("original prompt must follow the preamble: %q", seen)
	}

	g = newTestGateway(fake, 1, false)
	if _, err := g.Complete(context.Background(), Request{Prompt: "the question"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if seen != "the question" {
		t.Errorf("prompt should be untouched with policy off, got %q", seen)
	}
}

func TestGateway_GeminiRouting(t *testing.T) {
	def := &fakeCompleter{fn: func(int, Request) (string, error) { return "default", nil }}
	gem := &fakeCompleter{fn: func(int, Request) (string, error) { return "gemini", nil }}
	g := newTestGateway(def, 1, false).WithGemini(gem)

	got, err := g.Complete(context.Background(), Request{Prompt: "p", Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "gemini" {
		t.Errorf("gemini model routed to wrong transport: %q", got)
	}

	got, err = g.Complete(context.Background(), Request{Prompt: "p", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "default" {
		t.Errorf("non-gemini model routed to wrong transport: %q", got)
	}

	// Without a gemini transport the default handles everything.
	g = newTestGateway(def, 1, false)
	got, err = g.Complete(context.Background(), Request{Prompt: "p", Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "default" {
		t.Errorf("expected fallback to default transport, got %q", got)
	}
}

func TestGateway_CompleteJSONRetriesUnparseable(t *testing.T) {
	fake := &fakeCompleter{fn: func(call int, req Request) (string, error) {
		if !req.JSONMode {
			t.Error("CompleteJSON must set JSONMode")
		}
		if call == 1 {
			return "sorry, here is some prose with no data", nil
		}
		return `Here you go: {"name": "widget", "count": 3}`, nil
	}}
	g := newTestGateway(fake, 3, false)

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := g.CompleteJSON(context.Background(), Request{Prompt: "p"}, &out); err != nil {
		t.Fatalf("CompleteJSON failed: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", fake.calls)
	}
	if out.Name != "widget" || out.Count != 3 {
		t.Errorf("decoded %+v", out)
	}
}

func TestDefaultBackoff(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := defaultBackoff(i + 1); got != w {
			t.Errorf("defaultBackoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestIsRefusal(t *testing.T) {
	tests := []struct {
		resp string
		want bool
	}{
		{"I cannot assist with that.", true},
		{"I can't provide information past my cutoff.", true},
		{"As an AI language model, I do not have access to that.", true},
		{"I'm unable to verify this.", true},
		{"  i am unable to answer.", true},
		{"The answer is 42.", false},
		{strings.Repeat("The report covers recent findings. ", 20) + "I cannot stress this enough.", false},
	}
	for _, tt := range tests {
		if got := isRefusal(tt.resp); got != tt.want {
			t.Errorf("isRefusal(%.40q) = %v, want %v", tt.resp, got, tt.want)
		}
	}
}

func TestSalvageJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"raw object", `{"a": 1}`, `{"a": 1}`, true},
		{"raw array", ` [1, 2, 3] `, `[1, 2, 3]`, true},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"bare fence", "```\n[true]\n```", `[true]`, true},
		{"prose around object", `Sure! Here it is: {"a": {"b": 2}} Hope that helps.`, `{"a": {"b": 2}}`, true},
		{"braces inside strings", `noise {"q": "use {curly} braces"} noise`, `{"q": "use {curly} braces"}`, true},
		{"picks largest", `{"a":1} and also {"a":1,"b":2,"c":3}`, `{"a":1,"b":2,"c":3}`, true},
		{"no json", "there is nothing here", "", false},
		{"unbalanced", `{"a": 1`, "", false},
		{"balanced but invalid", "{not: valid}", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SalvageJSON(tt.raw)
			if tt.ok && err != nil {
				t.Fatalf("SalvageJSON failed: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
