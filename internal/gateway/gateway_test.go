package gateway

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"strings"
	"testing"

	"github.com/baun-edu/baun-server/internal/connectivity"
	"github.com/baun-edu/baun-server/internal/domain"
	"github.com/baun-edu/baun-server/internal/profile"
	"github.com/baun-edu/baun-server/internal/store"
)

type fakeBackend struct {
	name  string
	text  string
	err   error
	calls int
	last  Request
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Generate(_ context.Context, req Request) (string, error) {
	f.calls++
	f.last = req
	return f.text, f.err
}

func (f *fakeBackend) GenerateStream(_ context.Context, req Request) (iter.Seq2[string, error], error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return func(yield func(string, error) bool) {
		yield(f.text, nil)
	}, nil
}

func TestGeneratePrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "local", text: "primary answer"}
	secondary := &fakeBackend{name: "hosted", text: "hosted answer"}
	gw := New(primary, secondary, connectivity.NewMonitor(true), nil, Options{})

	reply := gw.Generate(context.Background(), Request{Message: "hi", Role: domain.RoleStudent})

	if reply.Content != "primary answer" || reply.Status != domain.StatusComplete {
		t.Fatalf("got %+v", reply)
	}
	if reply.Source != "local" {
		t.Fatalf("source = %q, want local", reply.Source)
	}
	if secondary.calls != 0 {
		t.Fatal("secondary must not be called when primary succeeds")
	}
}

func TestGeneratePrimaryTriedEvenWhenOffline(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "local", text: "still works"}
	gw := New(primary, &fakeBackend{name: "hosted"}, connectivity.NewMonitor(false), nil, Options{})

	reply := gw.Generate(context.Background(), Request{Message: "hi", Role: domain.RoleStudent})

	if primary.calls != 1 {
		t.Fatal("primary must be tried regardless of reported connectivity")
	}
	if reply.Content != "still works" {
		t.Fatalf("content = %q", reply.Content)
	}
}

func TestGenerateOfflineCannedReply(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "local", err: ErrBackendUnreachable}
	secondary := &fakeBackend{name: "hosted", text: "unused"}
	gw := New(primary, secondary, connectivity.NewMonitor(false), nil, Options{})

	reply := gw.Generate(context.Background(), Request{Message: "help with math", Role: domain.RoleStudent})

	if reply.Status != domain.StatusComplete {
		t.Fatalf("status = %q, offline canned replies are complete", reply.Status)
	}
	if !strings.Contains(reply.Content, "offline mode") {
		t.Fatalf("content = %q", reply.Content)
	}
	if !strings.Contains(reply.Content, "math problem") {
		t.Fatalf("expected math variant, got %q", reply.Content)
	}
	if secondary.calls != 0 {
		t.Fatal("secondary must not be called while offline")
	}
}

func TestGenerateFallsBackToSecondary(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "local", err: ErrBackendUnreachable}
	secondary := &fakeBackend{name: "hosted", text: "fallback answer"}
	gw := New(primary, secondary, connectivity.NewMonitor(true), nil, Options{})

	reply := gw.Generate(context.Background(), Request{Message: "hi", Role: domain.RoleTeacher})

	if reply.Content != "fallback answer" || reply.Status != domain.StatusComplete {
		t.Fatalf("got %+v", reply)
	}
	if reply.Source != "hosted" {
		t.Fatalf("source = %q, want hosted", reply.Source)
	}
}

func TestGenerateFallbackDisabled(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "local", err: ErrBackendUnreachable}
	secondary := &fakeBackend{name: "hosted", text: "unused"}
	gw := New(primary, secondary, connectivity.NewMonitor(true), nil, Options{DisableFallback: true})

	reply := gw.Generate(context.Background(), Request{Message: "hi", Role: domain.RoleStudent})

	if reply.Status != domain.StatusError {
		t.Fatalf("status = %q, want error", reply.Status)
	}
	if secondary.calls != 0 {
		t.Fatal("secondary must not be called when fallback is disabled")
	}
}

func TestGenerateBothBackendsFail(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "local", err: ErrBackendUnreachable}
	secondary := &fakeBackend{name: "hosted", err: errors.New("rate limited")}
	gw := New(primary, secondary, connectivity.NewMonitor(true), nil, Options{})

	reply := gw.Generate(context.Background(), Request{Message: "hi", Role: domain.RoleStudent})

	if reply.Status != domain.StatusError {
		t.Fatalf("status = %q, want error", reply.Status)
	}
	if reply.Content == "" {
		t.Fatal("error replies must carry human-readable text")
	}
}

func TestGenerateHistoryWindows(t *testing.T) {
	t.Parallel()

	history := []Turn{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
		{Role: "user", Content: "five"},
	}

	primary := &fakeBackend{name: "local", err: ErrBackendUnreachable}
	secondary := &fakeBackend{name: "hosted", text: "ok"}
	gw := New(primary, secondary, connectivity.NewMonitor(true), nil, Options{})

	gw.Generate(context.Background(), Request{Message: "hi", Role: domain.RoleStudent, History: history})

	if got := len(primary.last.History); got != 3 {
		t.Fatalf("primary history window = %d, want 3", got)
	}
	if got := len(secondary.last.History); got != 1 {
		t.Fatalf("secondary history window = %d, want 1", got)
	}
	if secondary.last.History[0].Content != "five" {
		t.Fatalf("windows must keep the most recent turns, got %q", secondary.last.History[0].Content)
	}
}

func TestGenerateFillsSystemPrompt(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "local", text: "ok"}
	gw := New(primary, &fakeBackend{name: "hosted"}, connectivity.NewMonitor(true), nil, Options{})

	gw.Generate(context.Background(), Request{Message: "hi", Role: domain.RoleTeacher})

	if !strings.Contains(primary.last.SystemPrompt, "teaching assistant") {
		t.Fatalf("system prompt = %q", primary.last.SystemPrompt)
	}
	if primary.last.SocraticLevel != DefaultSocraticLevel {
		t.Fatalf("socratic level = %d, want default %d", primary.last.SocraticLevel, DefaultSocraticLevel)
	}
}

func TestGenerateStreamFallsBackOnSetupFailure(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "local", err: ErrBackendUnreachable}
	secondary := &fakeBackend{name: "hosted", text: "streamed"}
	gw := New(primary, secondary, connectivity.NewMonitor(true), nil, Options{})

	var got strings.Builder
	for token, err := range gw.GenerateStream(context.Background(), Request{Message: "hi", Role: domain.RoleStudent}) {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		got.WriteString(token)
	}
	if got.String() != "streamed" {
		t.Fatalf("got %q", got.String())
	}
}

func TestGenerateStreamOfflineYieldsCannedReply(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "local", err: ErrBackendUnreachable}
	gw := New(primary, &fakeBackend{name: "hosted"}, connectivity.NewMonitor(false), nil, Options{})

	var got strings.Builder
	for token, err := range gw.GenerateStream(context.Background(), Request{Message: "hello", Role: domain.RoleTeacher}) {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		got.WriteString(token)
	}
	if !strings.Contains(got.String(), "offline mode") {
		t.Fatalf("got %q", got.String())
	}
}

// dyingStreamBackend accepts the stream request but fails before any token.
type dyingStreamBackend struct{}

func (dyingStreamBackend) Name() string { return "dying" }

func (dyingStreamBackend) Generate(_ context.Context, _ Request) (string, error) {
	return "", ErrBackendUnreachable
}

func (dyingStreamBackend) GenerateStream(_ context.Context, _ Request) (iter.Seq2[string, error], error) {
	return func(yield func(string, error) bool) {
		yield("", errors.New("connection reset"))
	}, nil
}

func TestStreamRecordsProfileOnlyAfterTokens(t *testing.T) {
	t.Parallel()

	newTracker := func(t *testing.T) (*profile.Tracker, store.Repository) {
		t.Helper()
		repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("opening store: %v", err)
		}
		t.Cleanup(func() { repo.Close() })
		return profile.NewTracker(repo), repo
	}
	req := Request{Message: "What is entropy?", Role: domain.RoleStudent, UserID: "guest-student-1"}

	t.Run("stream dies before first token", func(t *testing.T) {
		t.Parallel()
		tracker, repo := newTracker(t)
		gw := New(dyingStreamBackend{}, dyingStreamBackend{}, connectivity.NewMonitor(true), tracker, Options{DisableFallback: true})

		for range gw.GenerateStream(context.Background(), req) {
		}

		p, err := repo.GetLearnerProfile(context.Background(), req.UserID)
		if err != nil {
			t.Fatalf("GetLearnerProfile: %v", err)
		}
		if p != nil {
			t.Fatalf("failed stream must not count as an interaction, got %+v", p)
		}
	})

	t.Run("stream delivers", func(t *testing.T) {
		t.Parallel()
		tracker, repo := newTracker(t)
		backend := &fakeBackend{name: "local", text: "entropy is disorder"}
		gw := New(backend, backend, connectivity.NewMonitor(true), tracker, Options{})

		for _, err := range gw.GenerateStream(context.Background(), req) {
			if err != nil {
				t.Fatalf("stream error: %v", err)
			}
		}

		p, err := repo.GetLearnerProfile(context.Background(), req.UserID)
		if err != nil {
			t.Fatalf("GetLearnerProfile: %v", err)
		}
		if p == nil || p.InteractionCount != 1 {
			t.Fatalf("profile = %+v, want one recorded interaction", p)
		}
	})
}

func TestPromptCacheIsolatesProfileSummary(t *testing.T) {
	t.Parallel()

	cache := NewPromptCache()

	withProfile := cache.SystemPrompt(domain.RoleStudent, 2, "LEARNER PROFILE:\nprefers examples")
	withoutProfile := cache.SystemPrompt(domain.RoleStudent, 2, "")

	if !strings.Contains(withProfile, "prefers examples") {
		t.Fatal("profile summary missing from enriched prompt")
	}
	if strings.Contains(withoutProfile, "prefers examples") {
		t.Fatal("profile summary leaked into the cached base prompt")
	}
}

func TestOfflineReplyVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		role    domain.Role
		want    string
	}{
		{"teacher lesson", "Help me plan a lesson on fractions", domain.RoleTeacher, "lesson planning"},
		{"teacher generic", "How do I grade essays?", domain.RoleTeacher, "teaching question"},
		{"student math", "I'm stuck on this math exercise", domain.RoleStudent, "math problem"},
		{"student generic", "What is photosynthesis?", domain.RoleStudent, "this topic"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := OfflineReply(tc.message, tc.role); !strings.Contains(got, tc.want) {
				t.Fatalf("OfflineReply(%q, %s) = %q, want substring %q", tc.message, tc.role, got, tc.want)
			}
		})
	}
}
