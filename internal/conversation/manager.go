// Package conversation manages customers, conversations, and message history.
//
// The Manager is the single writer for conversation state: it resolves
// customers by phone number, finds or opens the active conversation, persists
// both sides of the exchange, and renders history for prompting.
package conversation

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapatende/zapatende/internal/models"
	"github.com/zapatende/zapatende/internal/store"
)

const (
	// DefaultHistoryLimit caps how many messages are loaded for prompting.
	DefaultHistoryLimit = 20

	// historyLinePrefixUser and historyLinePrefixAssistant label formatted
	// history lines by direction.
	historyLinePrefixUser      = "[USUARIO]: "
	historyLinePrefixAssistant = "[ASSISTENTE]: "
)

// Config holds conversation-layer settings.
type Config struct {
	// HistoryLimit is the default number of messages loaded for prompting.
	// Zero or negative falls back to DefaultHistoryLimit.
	HistoryLimit int
	// HistoryTokenBudget bounds formatted history size, estimated as one token
	// per four characters. Zero disables the budget.
	HistoryTokenBudget int
	// SummaryEnabled gates conversation summary updates.
	SummaryEnabled bool
}

// Manager coordinates customer and conversation persistence.
type Manager struct {
	st  store.Store
	cfg Config
	now func() time.Time

	// locks serializes conversation creation per customer so concurrent
	// messages from the same number share one active conversation.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager backed by the given store.
func NewManager(st store.Store, cfg Config) *Manager {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Manager{
		st:    st,
		cfg:   cfg,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// customerLock returns the mutex dedicated to one customer id.
func (m *Manager) customerLock(customerID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[customerID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[customerID] = lock
	}
	return lock
}

// GetOrCreateCustomer resolves a customer by phone number, creating an active
// opted-in record on first contact. The profile name is only filled in when
// the stored record has none.
func (m *Manager) GetOrCreateCustomer(phoneNumber, name string) (*models.Customer, error) {
	if phoneNumber == "" {
		return nil, models.ErrEmptyPhoneNumber
	}

	customer, err := m.st.GetCustomerByPhone(phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("Manager.GetOrCreateCustomer: failed to look up customer: %w", err)
	}
	if customer != nil {
		if name != "" && customer.Name == "" {
			customer.Name = name
			customer.UpdatedAt = m.now()
			if err := m.st.SaveCustomer(*customer); err != nil {
				return nil, fmt.Errorf("Manager.GetOrCreateCustomer: failed to update customer name: %w", err)
			}
		}
		return customer, nil
	}

	ts := m.now()
	customer = &models.Customer{
		ID:          uuid.New().String(),
		PhoneNumber: phoneNumber,
		Name:        name,
		Status:      models.CustomerStatusActive,
		OptedIn:     true,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := m.st.SaveCustomer(*customer); err != nil {
		return nil, fmt.Errorf("Manager.GetOrCreateCustomer: failed to create customer: %w", err)
	}
	slog.Info("Manager.GetOrCreateCustomer: created customer", "customerID", customer.ID, "phone", phoneNumber)
	return customer, nil
}

// GetOrCreateActiveConversation returns the customer's most recent non-closed
// conversation, opening a new one when none exists. Calls for the same
// customer are serialized so concurrent inbound messages never open duplicate
// conversations.
func (m *Manager) GetOrCreateActiveConversation(customerID string) (*models.Conversation, error) {
	lock := m.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	conversations, err := m.st.ListConversationsByCustomer(customerID)
	if err != nil {
		return nil, fmt.Errorf("Manager.GetOrCreateActiveConversation: failed to list conversations: %w", err)
	}
	for i := range conversations {
		if !conversations[i].IsClosed() {
			conv := conversations[i]
			return &conv, nil
		}
	}

	ts := m.now()
	conv := &models.Conversation{
		ID:             uuid.New().String(),
		CustomerID:     customerID,
		Status:         models.ConversationStatusActive,
		StartedAt:      ts,
		LastActivityAt: ts,
		Context: models.ConversationContext{
			LastInteractionAt: ts,
		},
	}
	if err := m.st.SaveConversation(*conv); err != nil {
		return nil, fmt.Errorf("Manager.GetOrCreateActiveConversation: failed to create conversation: %w", err)
	}
	slog.Debug("Manager.GetOrCreateActiveConversation: opened conversation", "conversationID", conv.ID, "customerID", customerID)
	return conv, nil
}

// GetConversationHistory returns the most recent messages of a conversation in
// chronological order. A non-positive limit uses the configured default.
func (m *Manager) GetConversationHistory(conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = m.cfg.HistoryLimit
	}
	messages, err := m.st.ListMessagesByConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("Manager.GetConversationHistory: failed to list messages: %w", err)
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// FormatConversationHistory renders messages as labeled lines for prompting.
// When a token budget is configured, oldest whole messages are dropped until
// the estimate fits.
func (m *Manager) FormatConversationHistory(messages []models.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		prefix := historyLinePrefixUser
		if msg.Direction == models.DirectionOutbound {
			prefix = historyLinePrefixAssistant
		}
		lines = append(lines, prefix+msg.Content)
	}

	if m.cfg.HistoryTokenBudget > 0 {
		for len(lines) > 0 && estimateTokens(lines) > m.cfg.HistoryTokenBudget {
			lines = lines[1:]
		}
	}
	return strings.Join(lines, "\n")
}

// estimateTokens approximates token usage as one token per four characters of
// the joined text.
func estimateTokens(lines []string) int {
	total := 0
	for _, line := range lines {
		total += len(line) + 1
	}
	if total > 0 {
		total--
	}
	return total / 4
}

// SaveUserMessage persists an inbound customer message and registers it on the
// conversation, refreshing the activity timestamps. Inbound messages are
// stored as READ since the pipeline acknowledges them on receipt.
func (m *Manager) SaveUserMessage(conv *models.Conversation, inbound models.InboundMessage) (*models.Message, error) {
	ts := inbound.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	msg := &models.Message{
		ID:                uuid.New().String(),
		ConversationID:    conv.ID,
		CustomerID:        conv.CustomerID,
		Type:              models.MessageTypeText,
		Direction:         models.DirectionInbound,
		Content:           inbound.TextContent,
		Timestamp:         ts,
		Status:            models.MessageStatusRead,
		Read:              true,
		ReadAt:            &ts,
		ProviderMessageID: inbound.ProviderMessageID,
	}
	if err := m.appendMessage(conv, msg); err != nil {
		return nil, fmt.Errorf("Manager.SaveUserMessage: %w", err)
	}
	return msg, nil
}

// SaveAssistantResponse persists an outbound bot reply and registers it on the
// conversation, refreshing the activity timestamps.
func (m *Manager) SaveAssistantResponse(conv *models.Conversation, content, providerMessageID string) (*models.Message, error) {
	msg := &models.Message{
		ID:                uuid.New().String(),
		ConversationID:    conv.ID,
		CustomerID:        conv.CustomerID,
		Type:              models.MessageTypeText,
		Direction:         models.DirectionOutbound,
		Content:           content,
		Timestamp:         m.now(),
		Status:            models.MessageStatusSent,
		ProviderMessageID: providerMessageID,
	}
	if err := m.appendMessage(conv, msg); err != nil {
		return nil, fmt.Errorf("Manager.SaveAssistantResponse: %w", err)
	}
	return msg, nil
}

// appendMessage stores a message and updates the owning conversation in place.
func (m *Manager) appendMessage(conv *models.Conversation, msg *models.Message) error {
	if err := m.st.SaveMessage(*msg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	conv.MessageIDs = append(conv.MessageIDs, msg.ID)
	conv.LastActivityAt = msg.Timestamp
	conv.Context.LastInteractionAt = msg.Timestamp
	if err := m.st.SaveConversation(*conv); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// UpdateConversationContext replaces the detected intent, topic, and entity
// list on the conversation context and persists the conversation. Empty
// values leave the stored field untouched; a non-empty entity list replaces
// the previous one wholesale, never merges.
func (m *Manager) UpdateConversationContext(conv *models.Conversation, intent, topic string, entities []string) error {
	if intent != "" {
		conv.Context.CustomerIntent = intent
	}
	if topic != "" {
		conv.Context.LastTopic = topic
	}
	if len(entities) > 0 {
		conv.Context.IdentifiedEntities = entities
	}
	conv.Context.LastInteractionAt = m.now()
	if err := m.st.SaveConversation(*conv); err != nil {
		return fmt.Errorf("Manager.UpdateConversationContext: failed to save conversation: %w", err)
	}
	return nil
}

// UpdateConversationSummary stores a fresh summary on the conversation
// context. It is a no-op when summaries are disabled.
func (m *Manager) UpdateConversationSummary(conv *models.Conversation, summary string) error {
	if !m.cfg.SummaryEnabled {
		return nil
	}
	conv.Context.ConversationSummary = summary
	if err := m.st.SaveConversation(*conv); err != nil {
		return fmt.Errorf("Manager.UpdateConversationSummary: failed to save conversation: %w", err)
	}
	return nil
}

// SetNeedsHumanIntervention flags the conversation context for handoff and
// persists the conversation.
func (m *Manager) SetNeedsHumanIntervention(conv *models.Conversation, needed bool) error {
	if conv.Context.NeedsHumanIntervention == needed {
		return nil
	}
	conv.Context.NeedsHumanIntervention = needed
	if err := m.st.SaveConversation(*conv); err != nil {
		return fmt.Errorf("Manager.SetNeedsHumanIntervention: failed to save conversation: %w", err)
	}
	return nil
}

// EndConversation closes a conversation. Closing an already closed
// conversation is a no-op.
func (m *Manager) EndConversation(conversationID string) error {
	conv, err := m.st.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("Manager.EndConversation: failed to load conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("Manager.EndConversation: %w: %s", models.ErrConversationNotFound, conversationID)
	}
	if conv.IsClosed() {
		return nil
	}

	ts := m.now()
	conv.Status = models.ConversationStatusClosed
	conv.EndedAt = &ts
	if err := m.st.SaveConversation(*conv); err != nil {
		return fmt.Errorf("Manager.EndConversation: failed to save conversation: %w", err)
	}
	slog.Info("Manager.EndConversation: closed conversation", "conversationID", conversationID)
	return nil
}
