package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"google.golang.org/genai"

	screenerrors "github.com/spigell/screener/internal/errors"
)

// scriptedChats replays one reply per created chat, in order.
type scriptedChats struct {
	replies []reply
	calls   []*recordedChat
}

type reply struct {
	text string
	err  error
}

type recordedChat struct {
	model  string
	config *genai.GenerateContentConfig
	sent   []string
	reply  reply
}

func (c *recordedChat) SendMessage(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	for _, p := range parts {
		c.sent = append(c.sent, p.Text)
	}
	if c.reply.err != nil {
		return nil, c.reply.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: c.reply.text}}},
		}},
	}, nil
}

func (s *scriptedChats) Create(_ context.Context, model string, config *genai.GenerateContentConfig, _ []*genai.Content) (chatSession, error) {
	if len(s.calls) >= len(s.replies) {
		return nil, errors.New("unexpected call")
	}
	chat := &recordedChat{model: model, config: config, reply: s.replies[len(s.calls)]}
	s.calls = append(s.calls, chat)
	return chat, nil
}

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	original := waitFor
	var slept []time.Duration
	waitFor = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	t.Cleanup(func() { waitFor = original })
	return &slept
}

var (
	errServer    = genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}
	errBadGate   = genai.APIError{Code: http.StatusBadGateway}
	errBadInput  = genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"}
	errQuota     = genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "quota"}
	errQuotaLong = genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "quota exhausted, retry after 60 seconds"}
)

func TestGeneratorRetryPolicy(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		replies    []reply
		wantText   string
		wantErr    screenerrors.ErrorType
		wantCalls  int
	}{
		{
			name:       "temporary error then success",
			maxRetries: 2,
			replies:    []reply{{err: errServer}, {text: `{"present": false}`}},
			wantText:   `{"present": false}`,
			wantCalls:  2,
		},
		{
			name:       "temporary errors exhaust attempts",
			maxRetries: 2,
			replies:    []reply{{err: errServer}, {err: errBadGate}},
			wantErr:    screenerrors.ErrTypeUnavailable,
			wantCalls:  2,
		},
		{
			name:       "quota errors exhaust attempts",
			maxRetries: 2,
			replies:    []reply{{err: errQuota}, {err: errQuota}},
			wantErr:    screenerrors.ErrTypeRateLimit,
			wantCalls:  2,
		},
		{
			name:       "quota delay beyond the limit",
			maxRetries: 3,
			replies:    []reply{{err: errQuotaLong}},
			wantErr:    screenerrors.ErrTypeRateLimit,
			wantCalls:  1,
		},
		{
			name:       "client errors are final",
			maxRetries: 3,
			replies:    []reply{{err: errBadInput}},
			wantErr:    screenerrors.ErrTypeInvalidInput,
			wantCalls:  1,
		},
		{
			name:       "empty candidate text",
			maxRetries: 1,
			replies:    []reply{{text: "   "}},
			wantErr:    screenerrors.ErrTypeInternal,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubSleep(t)
			chats := &scriptedChats{replies: tt.replies}
			g := newGenerator(chats, Options{Model: "gemini-test", MaxRetries: tt.maxRetries}, nil)

			got, err := g.GenerateContent(context.Background(), "You screen candidates.", "Does the candidate know Django?")
			if tt.wantErr != "" {
				if !screenerrors.Is(err, tt.wantErr) {
					t.Fatalf("expected %s error, got %v", tt.wantErr, err)
				}
			} else if err != nil || got != tt.wantText {
				t.Fatalf("expected %q, got %q (%v)", tt.wantText, got, err)
			}
			if len(chats.calls) != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, len(chats.calls))
			}
		})
	}
}

func TestGeneratorSendsSystemInstruction(t *testing.T) {
	stubSleep(t)
	chats := &scriptedChats{replies: []reply{{err: errServer}, {text: "ok"}}}
	g := newGenerator(chats, Options{Model: "gemini-test", MaxRetries: 2}, nil)

	if _, err := g.GenerateContent(context.Background(), "  rubric  ", "profile"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, call := range chats.calls {
		if call.model != "gemini-test" {
			t.Fatalf("call %d: unexpected model %q", i, call.model)
		}
		if call.config.SystemInstruction == nil || call.config.SystemInstruction.Parts[0].Text != "rubric" {
			t.Fatalf("call %d: expected trimmed system instruction", i)
		}
		if len(call.sent) != 1 || call.sent[0] != "profile" {
			t.Fatalf("call %d: unexpected messages %v", i, call.sent)
		}
	}
}

func TestGeneratorHonoursShortQuotaDelay(t *testing.T) {
	slept := stubSleep(t)
	chats := &scriptedChats{replies: []reply{
		{err: genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "Please retry in 12s."}},
		{text: "```json\n{\"present\": true}\n```"},
	}}
	g := newGenerator(chats, Options{Model: "gemini-test", MaxRetries: 3}, nil)

	out, err := g.GenerateJSON(context.Background(), "", "skills")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if extractJSON(out) != `{"present": true}` {
		t.Fatalf("unexpected output %q", out)
	}
	if len(*slept) != 1 || (*slept)[0] != 12*time.Second {
		t.Fatalf("expected one 12s wait, got %v", *slept)
	}
	for _, call := range chats.calls {
		if call.config.ResponseMIMEType != "application/json" {
			t.Fatalf("expected json mime type, got %q", call.config.ResponseMIMEType)
		}
		if call.config.SystemInstruction != nil {
			t.Fatal("expected no system instruction for an empty system prompt")
		}
	}
}

func TestGeneratorStopsOnCancelledContext(t *testing.T) {
	stubSleep(t)
	chats := &scriptedChats{replies: []reply{{err: errServer}, {text: "late"}}}
	g := newGenerator(chats, Options{MaxRetries: 3}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.GenerateContent(ctx, "", "profile")
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if len(chats.calls) > 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", len(chats.calls))
	}
}

func TestGeneratorQuotaWaitEndsOnCancel(t *testing.T) {
	chats := &scriptedChats{replies: []reply{
		{err: genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "Please retry in 25s."}},
		{text: "late"},
	}}
	g := newGenerator(chats, Options{MaxRetries: 3}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := g.GenerateContent(ctx, "", "profile")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("quota wait ignored cancellation, took %v", elapsed)
	}
	if len(chats.calls) != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", len(chats.calls))
	}
}

func TestGeneratorRejectsEmptyMessage(t *testing.T) {
	g := newGenerator(&scriptedChats{}, Options{}, nil)

	_, err := g.GenerateContent(context.Background(), "sys", "   ")
	if !screenerrors.Is(err, screenerrors.ErrTypeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if g.Model() != defaultModel {
		t.Fatalf("expected default model, got %q", g.Model())
	}

	var nilGen *Generator
	if _, err := nilGen.GenerateJSON(context.Background(), "", "x"); !screenerrors.Is(err, screenerrors.ErrTypeUnavailable) {
		t.Fatalf("expected unavailable for a nil generator, got %v", err)
	}
}

func TestSuggestedDelay(t *testing.T) {
	tests := []struct {
		message string
		want    time.Duration
		ok      bool
	}{
		{message: "quota exhausted, retry after 60 seconds", want: 60 * time.Second, ok: true},
		{message: "Please retry in 12.5s.", want: 12500 * time.Millisecond, ok: true},
		{message: "retry in 800ms", want: 800 * time.Millisecond, ok: true},
		{message: "resource exhausted", ok: false},
	}

	for _, tt := range tests {
		got, ok := suggestedDelay(tt.message)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("suggestedDelay(%q) = %v, %v; want %v, %v", tt.message, got, ok, tt.want, tt.ok)
		}
	}
}
