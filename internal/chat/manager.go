// Package chat holds conversation state for the active role: creation,
// selection, message appends, renames and deletion, all persisted through the
// store so transcripts survive restarts and offline use.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/baun-edu/baun-server/internal/connectivity"
	"github.com/baun-edu/baun-server/internal/domain"
	"github.com/baun-edu/baun-server/internal/gateway"
	"github.com/baun-edu/baun-server/internal/store"
)

const currentConversationKeyPrefix = "current-conversation-"

var studentSuggestions = []string{
	"Explain the concept of photosynthesis in simple terms",
	"Help me understand how to solve quadratic equations",
	"What are the key events of World War II?",
	"Explain Newton's laws of motion with examples",
}

var teacherSuggestions = []string{
	"Create a lesson plan for teaching linear equations to 8th graders",
	"Suggest activities for teaching the water cycle",
	"How can I explain cellular respiration to high school students?",
	"Generate a rubric for a research paper assignment",
}

// Manager owns the conversation list for the active role. All exported
// methods are safe for concurrent use. Reply generation is serialized per
// conversation so a second append on the same transcript queues behind the
// first instead of interleaving.
type Manager struct {
	repo    store.Repository
	gw      *gateway.Gateway
	monitor *connectivity.Monitor

	mu            sync.Mutex
	conversations []*domain.Conversation
	current       *domain.Conversation
	activeRole    domain.Role
	activeUserID  string
	genLocks      map[string]*sync.Mutex
	dirty         map[string]struct{}

	unsubscribe func()
}

// NewManager creates a manager and subscribes to connectivity transitions so
// conversations that failed to persist get flushed when the network returns.
func NewManager(repo store.Repository, gw *gateway.Gateway, monitor *connectivity.Monitor) *Manager {
	m := &Manager{
		repo:     repo,
		gw:       gw,
		monitor:  monitor,
		genLocks: make(map[string]*sync.Mutex),
		dirty:    make(map[string]struct{}),
	}
	if monitor != nil {
		m.unsubscribe = monitor.Subscribe(func(online bool) {
			if online {
				m.flushDirty(context.Background())
			}
		})
	}
	return m
}

// Close releases the connectivity subscription.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// SetActiveRole switches the manager to the given role and user. A current
// conversation belonging to a different role is dropped so it can never leak
// across contexts.
func (m *Manager) SetActiveRole(role domain.Role, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.activeRole = role
	m.activeUserID = userID
	if m.current != nil && m.current.UserRole != role {
		m.current = nil
	}
}

// ActiveRole returns the role the manager currently serves.
func (m *Manager) ActiveRole() domain.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRole
}

// LoadForRole loads the role's conversations from the store, most recently
// updated first. Transcripts without a valid role tag are excluded. The
// previously current conversation is restored from the saved preference when
// it still exists, otherwise the most recent one is selected. With nothing to
// select, a fresh conversation is created unless deferCreate is set.
func (m *Manager) LoadForRole(ctx context.Context, role domain.Role, userID string, deferCreate bool) error {
	all, err := m.repo.GetAllConversations(ctx)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	owned := make([]*domain.Conversation, 0, len(all))
	for _, conv := range all {
		if conv.UserRole == role {
			owned = append(owned, conv)
		}
	}
	slices.SortFunc(owned, func(a, b *domain.Conversation) int {
		return b.LastUpdated.Compare(a.LastUpdated)
	})

	m.mu.Lock()
	m.activeRole = role
	m.activeUserID = userID
	m.conversations = owned
	m.current = nil

	savedID, err := m.repo.GetPreference(ctx, currentConversationKeyPrefix+string(role))
	if err != nil {
		slog.Warn("Reading current conversation preference failed", "role", role, "error", err)
	}
	if savedID != "" {
		for _, conv := range owned {
			if conv.ID == savedID {
				m.current = conv
				break
			}
		}
	}
	if m.current == nil && len(owned) > 0 {
		m.current = owned[0]
	}
	empty := len(owned) == 0
	m.mu.Unlock()

	if m.current != nil {
		m.saveCurrentPreference(ctx, role, m.Current().ID)
		return nil
	}
	if empty && !deferCreate {
		_, err := m.Create(ctx)
		return err
	}
	return nil
}

// Create starts a new conversation for the active role, makes it current and
// persists it.
func (m *Manager) Create(ctx context.Context) (*domain.Conversation, error) {
	m.mu.Lock()
	role := m.activeRole
	userID := m.activeUserID
	if !role.Valid() {
		m.mu.Unlock()
		return nil, fmt.Errorf("no active role")
	}
	conv := domain.NewConversation(role, userID)
	m.conversations = append([]*domain.Conversation{conv}, m.conversations...)
	m.current = conv
	m.mu.Unlock()

	m.persist(ctx, conv)
	m.saveCurrentPreference(ctx, role, conv.ID)
	return conv, nil
}

// Select makes the conversation with the given id current. An unknown id is a
// silent no-op; the previous selection stands.
func (m *Manager) Select(ctx context.Context, id string) {
	m.mu.Lock()
	var found *domain.Conversation
	for _, conv := range m.conversations {
		if conv.ID == id {
			found = conv
			break
		}
	}
	if found == nil {
		m.mu.Unlock()
		return
	}
	m.current = found
	role := m.activeRole
	m.mu.Unlock()

	m.saveCurrentPreference(ctx, role, id)
}

// Current returns the current conversation, or nil when none is selected.
func (m *Manager) Current() *domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Conversations returns the active role's conversations, most recently
// updated first.
func (m *Manager) Conversations() []*domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.conversations)
}

// AppendUserMessage commits the user's message to the current conversation,
// then obtains an assistant reply through the gateway and appends it. The
// user message is persisted before generation starts so it survives any
// backend failure; the reply carries an error status instead of the method
// returning an error when every backend fails. Creates a conversation first
// when none is current.
func (m *Manager) AppendUserMessage(ctx context.Context, content string, attachments []string) (*domain.Conversation, error) {
	conv, history, err := m.commitUserMessage(ctx, content, attachments)
	if err != nil {
		return nil, err
	}

	lock := m.generationLock(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	reply := m.gw.Generate(ctx, gateway.Request{
		Message: content,
		Role:    conv.UserRole,
		History: history,
		UserID:  conv.UserID,
	})

	m.appendAssistantReply(ctx, conv, reply.Content, reply.Status)
	return conv, nil
}

// AppendUserMessageStream is the streaming variant: tokens are forwarded to
// onToken as they arrive and the accumulated reply is committed at the end.
// A stream that fails before producing any token commits an error-status
// reply, mirroring the non-streaming behavior.
func (m *Manager) AppendUserMessageStream(ctx context.Context, content string, attachments []string, onToken func(string)) (*domain.Conversation, error) {
	conv, history, err := m.commitUserMessage(ctx, content, attachments)
	if err != nil {
		return nil, err
	}

	lock := m.generationLock(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	var full []byte
	var streamErr error
	for token, err := range m.gw.GenerateStream(ctx, gateway.Request{
		Message: content,
		Role:    conv.UserRole,
		History: history,
		UserID:  conv.UserID,
	}) {
		if err != nil {
			streamErr = err
			break
		}
		full = append(full, token...)
		if onToken != nil {
			onToken(token)
		}
	}

	if streamErr != nil {
		if len(full) == 0 {
			m.appendAssistantReply(ctx, conv,
				"Sorry, I'm having trouble generating a response right now. Please try again in a moment.",
				domain.StatusError)
			return conv, nil
		}
		// A reply cut off mid-stream must not read as a finished answer.
		m.appendAssistantReply(ctx, conv, string(full), domain.StatusError)
		return conv, nil
	}
	m.appendAssistantReply(ctx, conv, string(full), domain.StatusComplete)
	return conv, nil
}

// Rename changes a conversation's title. Unknown ids are ignored.
func (m *Manager) Rename(ctx context.Context, id, title string) {
	m.mu.Lock()
	var renamed *domain.Conversation
	for _, conv := range m.conversations {
		if conv.ID == id {
			conv.Title = title
			conv.Touch()
			renamed = conv
			break
		}
	}
	m.mu.Unlock()

	if renamed != nil {
		m.persist(ctx, renamed)
	}
}

// Delete removes a conversation. Deleting the current conversation leaves no
// selection; a later Select with the deleted id is then a no-op.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.repo.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	m.mu.Lock()
	m.conversations = slices.DeleteFunc(m.conversations, func(c *domain.Conversation) bool {
		return c.ID == id
	})
	wasCurrent := m.current != nil && m.current.ID == id
	if wasCurrent {
		m.current = nil
	}
	role := m.activeRole
	delete(m.dirty, id)
	delete(m.genLocks, id)
	m.mu.Unlock()

	if wasCurrent && role.Valid() {
		if err := m.repo.DeletePreference(ctx, currentConversationKeyPrefix+string(role)); err != nil {
			slog.Warn("Clearing current conversation preference failed", "error", err)
		}
	}
	return nil
}

// DeleteAll removes every conversation belonging to the active role. Other
// roles' transcripts are untouched.
func (m *Manager) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, len(m.conversations))
	for i, conv := range m.conversations {
		ids[i] = conv.ID
	}
	role := m.activeRole
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.repo.DeleteConversation(ctx, id); err != nil {
			return fmt.Errorf("deleting conversation %s: %w", id, err)
		}
	}

	m.mu.Lock()
	m.conversations = nil
	m.current = nil
	m.dirty = make(map[string]struct{})
	m.genLocks = make(map[string]*sync.Mutex)
	m.mu.Unlock()

	if role.Valid() {
		if err := m.repo.DeletePreference(ctx, currentConversationKeyPrefix+string(role)); err != nil {
			slog.Warn("Clearing current conversation preference failed", "error", err)
		}
	}
	return nil
}

// SuggestedPrompts returns starter prompts for the active role.
func (m *Manager) SuggestedPrompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeRole == domain.RoleTeacher {
		return slices.Clone(teacherSuggestions)
	}
	return slices.Clone(studentSuggestions)
}

// commitUserMessage appends and persists the user's message, returning the
// conversation and the history snapshot from before the append.
func (m *Manager) commitUserMessage(ctx context.Context, content string, attachments []string) (*domain.Conversation, []gateway.Turn, error) {
	m.mu.Lock()
	if m.current == nil {
		role := m.activeRole
		if !role.Valid() {
			m.mu.Unlock()
			return nil, nil, fmt.Errorf("no active role")
		}
		conv := domain.NewConversation(role, m.activeUserID)
		m.conversations = append([]*domain.Conversation{conv}, m.conversations...)
		m.current = conv
	}
	conv := m.current

	history := make([]gateway.Turn, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		history = append(history, gateway.Turn{Role: string(msg.Role), Content: msg.Content})
	}

	msg := domain.NewMessage(domain.MessageRoleUser, content, domain.StatusComplete)
	msg.Attachments = attachments
	conv.Append(msg)
	m.reorder(conv)
	role := conv.UserRole
	m.mu.Unlock()

	m.persist(ctx, conv)
	m.saveCurrentPreference(ctx, role, conv.ID)
	return conv, history, nil
}

func (m *Manager) appendAssistantReply(ctx context.Context, conv *domain.Conversation, content string, status domain.MessageStatus) {
	m.mu.Lock()
	conv.Append(domain.NewMessage(domain.MessageRoleAssistant, content, status))
	m.reorder(conv)
	m.mu.Unlock()

	m.persist(ctx, conv)
}

// reorder moves the touched conversation to the front. Caller holds mu.
func (m *Manager) reorder(conv *domain.Conversation) {
	idx := slices.Index(m.conversations, conv)
	if idx > 0 {
		m.conversations = slices.Delete(m.conversations, idx, idx+1)
		m.conversations = append([]*domain.Conversation{conv}, m.conversations...)
	}
}

func (m *Manager) generationLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.genLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.genLocks[id] = lock
	}
	return lock
}

// persist writes the conversation through to the store. Failures are not
// fatal: the conversation stays in memory, is marked dirty and gets retried
// when connectivity returns.
func (m *Manager) persist(ctx context.Context, conv *domain.Conversation) {
	if err := m.repo.PutConversation(ctx, conv); err != nil {
		slog.Warn("Persisting conversation failed, queued for retry", "conversation_id", conv.ID, "error", err)
		m.mu.Lock()
		m.dirty[conv.ID] = struct{}{}
		m.mu.Unlock()
		return
	}
	m.mu.Lock()
	delete(m.dirty, conv.ID)
	m.mu.Unlock()
}

func (m *Manager) saveCurrentPreference(ctx context.Context, role domain.Role, id string) {
	if !role.Valid() {
		return
	}
	if err := m.repo.SetPreference(ctx, currentConversationKeyPrefix+string(role), id); err != nil {
		slog.Warn("Saving current conversation preference failed", "error", err)
	}
}

// flushDirty retries persistence for conversations that previously failed to
// write.
func (m *Manager) flushDirty(ctx context.Context) {
	m.mu.Lock()
	pending := make([]*domain.Conversation, 0, len(m.dirty))
	for _, conv := range m.conversations {
		if _, ok := m.dirty[conv.ID]; ok {
			pending = append(pending, conv)
		}
	}
	m.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	slog.Info("Flushing unsynced conversations", "count", len(pending))
	for _, conv := range pending {
		m.persist(ctx, conv)
	}
}
