// Package store provides storage backends for ZapAtende.
//
// It defines the Store interface consumed by the conversation layer and ships
// PostgreSQL, SQLite, and in-memory implementations.
package store

import (
	"strings"

	"github.com/zapatende/zapatende/internal/models"
)

// Store is the persistence surface consumed by the core. Lookups that find
// nothing return (nil, nil); errors are reserved for storage failures.
type Store interface {
	// Customer operations.
	GetCustomer(id string) (*models.Customer, error)
	GetCustomerByPhone(phoneNumber string) (*models.Customer, error)
	SaveCustomer(customer models.Customer) error

	// Conversation operations. ListConversationsByCustomer returns conversations
	// ordered by start time descending (most recent first).
	// ListOpenConversations returns every conversation not yet closed.
	GetConversation(id string) (*models.Conversation, error)
	ListConversationsByCustomer(customerID string) ([]models.Conversation, error)
	ListOpenConversations() ([]models.Conversation, error)
	SaveConversation(conversation models.Conversation) error

	// Message operations. ListMessagesByConversation returns messages ordered by
	// timestamp ascending (chronological).
	GetMessage(id string) (*models.Message, error)
	GetMessageByProviderID(providerMessageID string) (*models.Message, error)
	SaveMessage(message models.Message) error
	ListMessagesByConversation(conversationID string) ([]models.Message, error)

	Close() error
}

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite".
// Anything that does not look like a PostgreSQL URL or key/value DSN is
// treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
