// Package gateway turns user messages into assistant replies, consulting the
// primary local inference server first and falling back to the hosted
// completion API or an offline canned response.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/baun-edu/baun-server/internal/connectivity"
	"github.com/baun-edu/baun-server/internal/domain"
	"github.com/baun-edu/baun-server/internal/profile"
)

var (
	// ErrBackendUnreachable indicates a backend could not be reached or
	// answered with a failure status.
	ErrBackendUnreachable = errors.New("inference backend unreachable")

	// ErrMalformedResponse indicates a backend replied but its payload could
	// not be parsed. Treated exactly like unreachable for fallback purposes.
	ErrMalformedResponse = errors.New("malformed inference response")
)

// History windows sent as context per backend. Small on purpose: latency and
// cost outweigh marginal context quality here.
const (
	primaryHistoryWindow   = 3
	secondaryHistoryWindow = 1
)

// DefaultSocraticLevel is used when a request does not specify one.
const DefaultSocraticLevel = 2

// Turn is one prior exchange entry sent as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one generation call.
type Request struct {
	Message       string
	Role          domain.Role
	History       []Turn
	UserID        string
	SocraticLevel int

	// SystemPrompt is filled in by the gateway before dispatch; backends that
	// assemble their own prompts server-side ignore it.
	SystemPrompt string
}

// Reply is the gateway's terminal result. Failures are expressed as content
// with StatusError, never as an error return, so the conversation transcript
// always stays valid and displayable.
type Reply struct {
	Content string
	Status  domain.MessageStatus

	// Source names which path produced the reply: primary, secondary,
	// offline or error.
	Source string
}

// Backend is a single inference backend. GenerateStream returns a setup error
// when the call cannot be established; errors after streaming has begun are
// yielded through the sequence.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStream(ctx context.Context, req Request) (iter.Seq2[string, error], error)
}

// Gateway owns the fallback chain. One attempt per backend, no retries.
type Gateway struct {
	primary         Backend
	secondary       Backend
	monitor         *connectivity.Monitor
	tracker         *profile.Tracker
	prompts         *PromptCache
	disableFallback bool
}

// Options tunes gateway construction.
type Options struct {
	// DisableFallback suppresses the hosted fallback even when online.
	DisableFallback bool
}

// New creates a gateway. The prompt cache is owned here rather than living as
// package state.
func New(primary, secondary Backend, monitor *connectivity.Monitor, tracker *profile.Tracker, opts Options) *Gateway {
	return &Gateway{
		primary:         primary,
		secondary:       secondary,
		monitor:         monitor,
		tracker:         tracker,
		prompts:         NewPromptCache(),
		disableFallback: opts.DisableFallback,
	}
}

// Generate obtains an assistant reply for the request. The primary backend is
// always tried first, regardless of reported online status, because it may be
// reachable on the local network even when the public internet is not.
func (g *Gateway) Generate(ctx context.Context, req Request) Reply {
	g.prepare(ctx, &req)

	primaryReq := req
	primaryReq.History = lastTurns(req.History, primaryHistoryWindow)

	text, err := g.primary.Generate(ctx, primaryReq)
	if err == nil {
		g.recordStudentInteraction(ctx, req)
		return Reply{Content: text, Status: domain.StatusComplete, Source: g.primary.Name()}
	}
	slog.Warn("Primary backend failed", "backend", g.primary.Name(), "error", err)

	if !g.monitor.Online() {
		return Reply{
			Content: OfflineReply(req.Message, req.Role),
			Status:  domain.StatusComplete,
			Source:  "offline",
		}
	}

	if g.disableFallback {
		return Reply{
			Content: "The local AI server is not responding and fallback to online services is disabled. Please check that your local AI server is running correctly.",
			Status:  domain.StatusError,
			Source:  "error",
		}
	}

	secondaryReq := req
	secondaryReq.History = lastTurns(req.History, secondaryHistoryWindow)

	text, secErr := g.secondary.Generate(ctx, secondaryReq)
	if secErr == nil {
		g.recordStudentInteraction(ctx, req)
		return Reply{Content: text, Status: domain.StatusComplete, Source: g.secondary.Name()}
	}
	slog.Error("All inference backends failed",
		"primary_error", err, "secondary_error", secErr)

	return Reply{
		Content: fmt.Sprintf("Sorry, I'm having trouble generating a response. The local AI server failed (%v) and the hosted service is also unavailable (%v). Please check your connection or try again later.", err, secErr),
		Status:  domain.StatusError,
		Source:  "error",
	}
}

// GenerateStream is the token-by-token variant. The returned sequence is
// forward-only and not restartable; the consumer treats closure as completion
// and cancels by discontinuing reads. Fallback only happens on setup failure:
// once tokens flow from a backend, a mid-stream error ends the stream.
func (g *Gateway) GenerateStream(ctx context.Context, req Request) iter.Seq2[string, error] {
	g.prepare(ctx, &req)

	primaryReq := req
	primaryReq.History = lastTurns(req.History, primaryHistoryWindow)

	stream, err := g.primary.GenerateStream(ctx, primaryReq)
	if err == nil {
		return g.recordOnDrain(ctx, req, stream)
	}
	slog.Warn("Primary backend stream failed to start", "backend", g.primary.Name(), "error", err)

	if !g.monitor.Online() {
		canned := OfflineReply(req.Message, req.Role)
		return func(yield func(string, error) bool) {
			yield(canned, nil)
		}
	}

	if g.disableFallback {
		primaryErr := err
		return func(yield func(string, error) bool) {
			yield("", fmt.Errorf("%w: %v", ErrBackendUnreachable, primaryErr))
		}
	}

	secondaryReq := req
	secondaryReq.History = lastTurns(req.History, secondaryHistoryWindow)

	stream, secErr := g.secondary.GenerateStream(ctx, secondaryReq)
	if secErr == nil {
		return g.recordOnDrain(ctx, req, stream)
	}
	slog.Error("All inference backend streams failed to start",
		"primary_error", err, "secondary_error", secErr)

	primaryErr, secondaryErr := err, secErr
	return func(yield func(string, error) bool) {
		yield("", fmt.Errorf("%w: primary: %v; secondary: %v", ErrBackendUnreachable, primaryErr, secondaryErr))
	}
}

// prepare normalizes the request and fills in the system prompt, enriching it
// with learner profile context for students with enough history.
func (g *Gateway) prepare(ctx context.Context, req *Request) {
	if req.SocraticLevel == 0 {
		req.SocraticLevel = DefaultSocraticLevel
	}
	summary := ""
	if req.Role == domain.RoleStudent && g.tracker != nil {
		summary = g.tracker.SummaryForPrompt(ctx, req.UserID)
	}
	req.SystemPrompt = g.prompts.SystemPrompt(req.Role, req.SocraticLevel, summary)
}

// recordOnDrain wraps a backend stream so the learner profile update only
// happens once the consumer has drained it and at least one token arrived
// without a failure. A stream that dies before producing anything is not a
// successful interaction, matching the non-streaming path.
func (g *Gateway) recordOnDrain(ctx context.Context, req Request, stream iter.Seq2[string, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var produced, failed bool
		for token, err := range stream {
			if err != nil {
				failed = true
			}
			if token != "" {
				produced = true
			}
			if !yield(token, err) {
				return
			}
		}
		if produced && !failed {
			g.recordStudentInteraction(ctx, req)
		}
	}
}

func (g *Gateway) recordStudentInteraction(ctx context.Context, req Request) {
	if req.Role != domain.RoleStudent || g.tracker == nil {
		return
	}
	g.tracker.RecordMessage(ctx, req.UserID, req.Message)
}

func lastTurns(turns []Turn, n int) []Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
