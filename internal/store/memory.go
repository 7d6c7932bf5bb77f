// Package store provides storage backends for ZapAtende.
//
// This file implements an in-memory store used in tests and local development.
package store

import (
	"sort"
	"sync"

	"github.com/zapatende/zapatende/internal/models"
)

// InMemoryStore is a thread-safe in-memory implementation of Store.
type InMemoryStore struct {
	mu            sync.RWMutex
	customers     map[string]models.Customer
	conversations map[string]models.Conversation
	messages      map[string]models.Message
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		customers:     make(map[string]models.Customer),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string]models.Message),
	}
}

// GetCustomer retrieves a customer by internal id.
func (s *InMemoryStore) GetCustomer(id string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.customers[id]; ok {
		copied := c
		return &copied, nil
	}
	return nil, nil
}

// GetCustomerByPhone retrieves a customer by phone number.
func (s *InMemoryStore) GetCustomerByPhone(phoneNumber string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.customers {
		if c.PhoneNumber == phoneNumber {
			copied := c
			return &copied, nil
		}
	}
	return nil, nil
}

// SaveCustomer stores or updates a customer.
func (s *InMemoryStore) SaveCustomer(customer models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *InMemoryStore) GetConversation(id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.conversations[id]; ok {
		copied := c
		return &copied, nil
	}
	return nil, nil
}

// ListConversationsByCustomer retrieves a customer's conversations ordered by
// start time descending.
func (s *InMemoryStore) ListConversationsByCustomer(customerID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var conversations []models.Conversation
	for _, c := range s.conversations {
		if c.CustomerID == customerID {
			conversations = append(conversations, c)
		}
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].StartedAt.After(conversations[j].StartedAt)
	})
	return conversations, nil
}

// ListOpenConversations retrieves every conversation not yet closed, ordered
// by start time descending.
func (s *InMemoryStore) ListOpenConversations() ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var conversations []models.Conversation
	for _, c := range s.conversations {
		if c.Status != models.ConversationStatusClosed {
			conversations = append(conversations, c)
		}
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].StartedAt.After(conversations[j].StartedAt)
	})
	return conversations, nil
}

// SaveConversation stores or updates a conversation.
func (s *InMemoryStore) SaveConversation(conversation models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversation.ID] = conversation
	return nil
}

// GetMessage retrieves a message by internal id.
func (s *InMemoryStore) GetMessage(id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.messages[id]; ok {
		copied := m
		return &copied, nil
	}
	return nil, nil
}

// GetMessageByProviderID retrieves a message by the provider-assigned id.
func (s *InMemoryStore) GetMessageByProviderID(providerMessageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if providerMessageID == "" {
		return nil, nil
	}
	for _, m := range s.messages {
		if m.ProviderMessageID == providerMessageID {
			copied := m
			return &copied, nil
		}
	}
	return nil, nil
}

// SaveMessage stores or updates a message.
func (s *InMemoryStore) SaveMessage(message models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[message.ID] = message
	return nil
}

// ListMessagesByConversation retrieves a conversation's messages in
// chronological order.
func (s *InMemoryStore) ListMessagesByConversation(conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var messages []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			messages = append(messages, m)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
