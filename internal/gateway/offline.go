package gateway

import (
	"strings"

	"github.com/baun-edu/baun-server/internal/domain"
)

// OfflineReply builds the canned assistant reply used when the primary
// backend fails while the network is down. The text varies slightly with the
// role and the message content so transcripts stay coherent offline.
func OfflineReply(message string, role domain.Role) string {
	content := strings.ToLower(message)

	if role == domain.RoleTeacher {
		subject := "teaching question"
		if strings.Contains(content, "lesson") {
			subject = "lesson planning"
		}
		return "I'm currently in offline mode, but I can still help with your teaching needs.\n\n" +
			"When you're back online, I'll be able to provide more detailed assistance with your " + subject + ".\n\n" +
			"In the meantime, you can continue brainstorming ideas and I'll store our conversation for later reference."
	}

	subject := "this topic"
	if strings.Contains(content, "math") {
		subject = "this math problem"
	}
	return "I'm currently in offline mode, but I can still help with your learning.\n\n" +
		"When you're back online, I'll be able to provide more detailed explanations about " + subject + ".\n\n" +
		"In the meantime, you can continue asking questions and I'll store our conversation for later reference."
}
