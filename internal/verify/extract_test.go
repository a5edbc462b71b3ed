package verify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"scour/internal/llm"
)

// fakeGateway decodes a canned JSON response into the stage's target,
// recording the request for assertions.
type fakeGateway struct {
	calls    int
	lastReq  llm.Request
	response string
	err      error
}

func (f *fakeGateway) CompleteJSON(_ context.Context, req llm.Request, target any) error {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.response), target)
}

func TestExtractGroupsClaimsBySource(t *testing.T) {
	gw := &fakeGateway{response: `{
		"claims": [
			{"text": "claim one", "source_number": 1, "type": "factual", "context": "c1"},
			{"text": "claim two", "source_number": 2, "type": "statistic", "context": "c2"},
			{"text": "claim three", "source_number": 1, "type": "date", "context": "c3"},
			{"text": "phantom", "source_number": 5, "type": "factual", "context": ""}
		]
	}`}
	e := NewExtractor(gw, "test-model", zap.NewNop())

	report := "Fact [Source 1]. Stat [Source 2]. More [Source 1]."
	groups, err := e.Extract(context.Background(), report, []string{"https://a.example", "https://b.example"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].URL != "https://a.example" || len(groups[0].Claims) != 2 {
		t.Errorf("groups[0] = %q with %d claims, want first source with 2 claims",
			groups[0].URL, len(groups[0].Claims))
	}
	if groups[1].URL != "https://b.example" || len(groups[1].Claims) != 1 {
		t.Errorf("groups[1] = %q with %d claims, want second source with 1 claim",
			groups[1].URL, len(groups[1].Claims))
	}
	if got := groups[0].Claims[0]; got.SourceURL != "https://a.example" || got.Text != "claim one" {
		t.Errorf("first claim = %+v, want resolved against source 1", got)
	}
	if !gw.lastReq.JSONMode {
		t.Error("extraction request not in JSON mode")
	}
}

func TestExtractSkipsReportWithoutCitations(t *testing.T) {
	gw := &fakeGateway{}
	e := NewExtractor(gw, "test-model", zap.NewNop())

	groups, err := e.Extract(context.Background(), "No citations here.", []string{"https://a.example"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if groups != nil {
		t.Errorf("groups = %v, want nil", groups)
	}
	if gw.calls != 0 {
		t.Errorf("gateway called %d times, want 0", gw.calls)
	}
}

func TestExtractPropagatesGatewayError(t *testing.T) {
	gw := &fakeGateway{err: errors.New("model offline")}
	e := NewExtractor(gw, "test-model", zap.NewNop())

	_, err := e.Extract(context.Background(), "Fact [Source 1].", []string{"https://a.example"})
	if err == nil {
		t.Fatal("expected error from gateway failure")
	}
}

func TestExtractIgnoresOutOfRangeCitations(t *testing.T) {
	gw := &fakeGateway{response: `{"claims": []}`}
	e := NewExtractor(gw, "test-model", zap.NewNop())

	// Only citation points past the source list, so there is nothing
	// resolvable to extract.
	groups, err := e.Extract(context.Background(), "Fact [Source 9].", []string{"https://a.example"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if groups != nil {
		t.Errorf("groups = %v, want nil", groups)
	}
	if gw.calls != 0 {
		t.Errorf("gateway called %d times, want 0", gw.calls)
	}
}

func TestNormalizeClaimType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"factual", "factual"},
		{"statistic", "statistic"},
		{"quote", "quote"},
		{"date", "date"},
		{"opinion", "factual"},
		{"", "factual"},
	}
	for _, tt := range tests {
		if got := normalizeClaimType(tt.in); got != tt.want {
			t.Errorf("normalizeClaimType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
