package gateway

import (
	"fmt"
	"sync"

	"github.com/baun-edu/baun-server/internal/domain"
)

const studentBasePrompt = `You are a patient, encouraging AI tutor helping a student learn. Guide the student toward understanding instead of handing over finished answers. Keep explanations grounded in examples the student can relate to, and check understanding with short follow-up questions. If the student seems stuck or frustrated, simplify and encourage.`

const teacherBasePrompt = `You are an AI teaching assistant supporting a teacher. Help with lesson planning, creating exercises and assessments, explaining pedagogical approaches, and summarizing curriculum material. Be direct and practical; the teacher wants usable material, not tutoring.`

// socraticLevels tune how much the tutor leads versus tells. Level 2 is the
// default middle ground.
var socraticLevels = map[int]string{
	1: "Answer questions directly with clear, complete explanations. Use guiding questions sparingly.",
	2: "Balance explanation with guided discovery. Give partial answers and ask the student to complete the reasoning.",
	3: "Rarely state answers outright. Lead almost entirely through questions, hints and counterexamples.",
}

// PromptCache assembles and memoizes system prompts. Only the static part
// (role and socratic level, a handful of combinations) is cached; the learner
// profile summary is appended per call because its text differs per user.
// The key space is tiny so there is no eviction.
type PromptCache struct {
	mu    sync.Mutex
	cache map[string]string
}

func NewPromptCache() *PromptCache {
	return &PromptCache{cache: make(map[string]string)}
}

// SystemPrompt returns the full system prompt for the role and socratic
// level, with the profile summary appended when non-empty.
func (p *PromptCache) SystemPrompt(role domain.Role, socraticLevel int, profileSummary string) string {
	base := p.static(role, socraticLevel)
	if profileSummary == "" {
		return base
	}
	return base + "\n\n" + profileSummary
}

func (p *PromptCache) static(role domain.Role, socraticLevel int) string {
	key := fmt.Sprintf("%s-%d", role, socraticLevel)

	p.mu.Lock()
	defer p.mu.Unlock()
	if prompt, ok := p.cache[key]; ok {
		return prompt
	}

	base := studentBasePrompt
	if role == domain.RoleTeacher {
		base = teacherBasePrompt
	}
	level, ok := socraticLevels[socraticLevel]
	if !ok {
		level = socraticLevels[DefaultSocraticLevel]
	}
	prompt := base + "\n\n" + level
	p.cache[key] = prompt
	return prompt
}
