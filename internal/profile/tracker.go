// Package profile accumulates best-effort learner interaction profiles used to
// bias prompt content for student conversations.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/baun-edu/baun-server/internal/domain"
	"github.com/baun-edu/baun-server/internal/store"
)

// minInteractionsForSummary gates prompt enrichment: a summary is only
// meaningful once a few interactions have been observed.
const minInteractionsForSummary = 3

// topicKeywords maps detected subjects to their trigger words. The detection
// is deliberately crude; the profile only nudges prompt content.
var topicKeywords = map[string][]string{
	"Mathematics":      {"math", "equation", "algebra", "calculus"},
	"Physics":          {"physics", "force", "energy", "motion"},
	"Chemistry":        {"chemistry", "molecule", "atom", "reaction"},
	"Biology":          {"biology", "cell", "organism", "ecosystem"},
	"History":          {"history", "century", "war", "civilization"},
	"Computer Science": {"programming", "code", "function", "algorithm"},
	"Literature":       {"literature", "poem", "novel", "character"},
}

// Tracker records interaction telemetry per identity and renders prompt
// summaries from it. All operations are best-effort: failures are logged and
// never block a conversation.
type Tracker struct {
	repo store.Repository
}

// NewTracker creates a tracker backed by the given repository.
func NewTracker(repo store.Repository) *Tracker {
	return &Tracker{repo: repo}
}

// RecordMessage updates the profile for userID from one user message.
func (t *Tracker) RecordMessage(ctx context.Context, userID, message string) {
	if userID == "" {
		return
	}

	p, err := t.repo.GetLearnerProfile(ctx, userID)
	if err != nil {
		slog.Warn("Failed to load learner profile", "user_id", userID, "error", err)
		return
	}
	if p == nil {
		p = domain.NewLearnerProfile(userID)
	}

	p.InteractionCount++
	total := p.AverageMessageLength * float64(p.InteractionCount-1)
	p.AverageMessageLength = (total + float64(len(message))) / float64(p.InteractionCount)

	if topic := DetectTopic(message); topic != "" {
		p.Topics[topic]++
	}
	tallyQuestionType(p, message)

	// Infer response preference from message length patterns once there is
	// enough signal.
	if p.InteractionCount > 5 {
		switch {
		case p.AverageMessageLength < 50:
			p.ResponsePreference = "concise"
		case p.AverageMessageLength > 150:
			p.ResponsePreference = "detailed"
		default:
			p.ResponsePreference = "balanced"
		}
	}

	if err := t.repo.SaveLearnerProfile(ctx, p); err != nil {
		slog.Warn("Failed to save learner profile", "user_id", userID, "error", err)
	}
}

// SummaryForPrompt renders a short natural-language profile summary for
// inclusion in system instructions, or "" when too little history exists.
func (t *Tracker) SummaryForPrompt(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	p, err := t.repo.GetLearnerProfile(ctx, userID)
	if err != nil {
		slog.Warn("Failed to load learner profile for prompt", "user_id", userID, "error", err)
		return ""
	}
	if p == nil || p.InteractionCount < minInteractionsForSummary {
		return ""
	}

	var b strings.Builder
	b.WriteString("LEARNER PROFILE:\n")
	if p.ResponsePreference != "unknown" && p.ResponsePreference != "" {
		fmt.Fprintf(&b, "- Prefers %s responses\n", p.ResponsePreference)
	}
	if topics := topTopics(p.Topics, 3); len(topics) > 0 {
		fmt.Fprintf(&b, "- Topics of interest: %s\n", strings.Join(topics, ", "))
	}
	fmt.Fprintf(&b, "- Interactions so far: %d\n", p.InteractionCount)
	return b.String()
}

// DetectTopic returns the subject implied by a message, or "".
func DetectTopic(message string) string {
	lower := strings.ToLower(message)
	// Stable iteration order keeps detection deterministic when a message
	// mentions several subjects.
	names := make([]string, 0, len(topicKeywords))
	for name := range topicKeywords {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, kw := range topicKeywords[name] {
			if strings.Contains(lower, kw) {
				return name
			}
		}
	}
	return ""
}

func tallyQuestionType(p *domain.LearnerProfile, message string) {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "what is", "who is", "when did"):
		p.QuestionTypes.Factual++
	case containsAny(lower, "why", "how does"):
		p.QuestionTypes.Conceptual++
	case containsAny(lower, "analyze", "compare", "evaluate"):
		p.QuestionTypes.Analytical++
	case containsAny(lower, "apply", "use", "implement"):
		p.QuestionTypes.ApplicationBased++
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func topTopics(topics map[string]int, n int) []string {
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(topics))
	for name, count := range topics {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.name)
	}
	return out
}
