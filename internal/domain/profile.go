package domain

import "time"

// LearnerProfile is a best-effort, locally accumulated summary of a student's
// interaction patterns. It only biases prompt content and is never used for
// correctness-critical decisions.
type LearnerProfile struct {
	UserID      string    `json:"userId"`
	LastUpdated time.Time `json:"lastUpdated"`

	InteractionCount     int     `json:"interactionCount"`
	AverageMessageLength float64 `json:"averageMessageLength"`

	// Topics maps a detected subject to its interaction tally.
	Topics map[string]int `json:"topics"`

	QuestionTypes QuestionTypeTally `json:"questionTypes"`

	// ResponsePreference is inferred from message length patterns once enough
	// interactions have been observed: concise, detailed, balanced or unknown.
	ResponsePreference string `json:"responsePreference"`
}

// QuestionTypeTally is a crude classification count of question styles.
type QuestionTypeTally struct {
	Factual          int `json:"factual"`
	Conceptual       int `json:"conceptual"`
	Analytical       int `json:"analytical"`
	ApplicationBased int `json:"applicationBased"`
}

// NewLearnerProfile creates an empty profile for the given identity.
func NewLearnerProfile(userID string) *LearnerProfile {
	return &LearnerProfile{
		UserID:             userID,
		LastUpdated:        time.Now(),
		Topics:             make(map[string]int),
		ResponsePreference: "unknown",
	}
}
