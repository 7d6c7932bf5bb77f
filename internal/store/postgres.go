// Package store provides storage backends for ZapAtende.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/zapatende/zapatende/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetCustomer retrieves a customer by internal id.
func (s *PostgresStore) GetCustomer(id string) (*models.Customer, error) {
	query := `SELECT id, phone_number, name, email, status, opted_in, preferences, created_at, updated_at
			  FROM customers WHERE id = $1`
	customer, err := scanCustomer(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetCustomer not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCustomer failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get customer %s: %w", id, err)
	}
	return customer, nil
}

// GetCustomerByPhone retrieves a customer by phone number.
func (s *PostgresStore) GetCustomerByPhone(phoneNumber string) (*models.Customer, error) {
	query := `SELECT id, phone_number, name, email, status, opted_in, preferences, created_at, updated_at
			  FROM customers WHERE phone_number = $1`
	customer, err := scanCustomer(s.db.QueryRow(query, phoneNumber))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetCustomerByPhone not found", "phone", phoneNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCustomerByPhone failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to get customer by phone %s: %w", phoneNumber, err)
	}
	return customer, nil
}

// SaveCustomer stores or updates a customer.
func (s *PostgresStore) SaveCustomer(customer models.Customer) error {
	prefsJSON, err := marshalJSONColumn(customer.Preferences)
	if err != nil {
		slog.Error("PostgresStore SaveCustomer marshal failed", "error", err, "id", customer.ID)
		return err
	}

	query := `
		INSERT INTO customers (id, phone_number, name, email, status, opted_in, preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			status = EXCLUDED.status,
			opted_in = EXCLUDED.opted_in,
			preferences = EXCLUDED.preferences,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.Exec(query, customer.ID, customer.PhoneNumber, customer.Name, customer.Email,
		string(customer.Status), customer.OptedIn, prefsJSON, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveCustomer failed", "error", err, "id", customer.ID)
		return fmt.Errorf("failed to save customer %s: %w", customer.ID, err)
	}
	slog.Debug("PostgresStore SaveCustomer succeeded", "id", customer.ID, "phone", customer.PhoneNumber)
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *PostgresStore) GetConversation(id string) (*models.Conversation, error) {
	query := `SELECT id, customer_id, status, started_at, ended_at, last_activity_at,
			  handed_off_to_human, assigned_agent_id, message_ids, context
			  FROM conversations WHERE id = $1`
	conversation, err := scanConversation(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return conversation, nil
}

// ListConversationsByCustomer retrieves a customer's conversations ordered by
// start time descending.
func (s *PostgresStore) ListConversationsByCustomer(customerID string) ([]models.Conversation, error) {
	query := `SELECT id, customer_id, status, started_at, ended_at, last_activity_at,
			  handed_off_to_human, assigned_agent_id, message_ids, context
			  FROM conversations WHERE customer_id = $1 ORDER BY started_at DESC`

	rows, err := s.db.Query(query, customerID)
	if err != nil {
		slog.Error("PostgresStore ListConversationsByCustomer query failed", "error", err, "customerID", customerID)
		return nil, fmt.Errorf("failed to query conversations for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			slog.Error("PostgresStore ListConversationsByCustomer scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, *conversation)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListConversationsByCustomer rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("PostgresStore ListConversationsByCustomer succeeded", "customerID", customerID, "count", len(conversations))
	return conversations, nil
}

// ListOpenConversations retrieves every conversation not yet closed, ordered
// by start time descending.
func (s *PostgresStore) ListOpenConversations() ([]models.Conversation, error) {
	query := `SELECT id, customer_id, status, started_at, ended_at, last_activity_at,
			  handed_off_to_human, assigned_agent_id, message_ids, context
			  FROM conversations WHERE status != $1 ORDER BY started_at DESC`

	rows, err := s.db.Query(query, string(models.ConversationStatusClosed))
	if err != nil {
		slog.Error("PostgresStore ListOpenConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query open conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			slog.Error("PostgresStore ListOpenConversations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, *conversation)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListOpenConversations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return conversations, nil
}

// SaveConversation stores or updates a conversation, including its embedded
// context and ordered message-id list.
func (s *PostgresStore) SaveConversation(conversation models.Conversation) error {
	messageIDsJSON, err := marshalJSONColumn(conversation.MessageIDs)
	if err != nil {
		slog.Error("PostgresStore SaveConversation marshal message ids failed", "error", err, "id", conversation.ID)
		return err
	}
	contextJSON, err := marshalJSONColumn(conversation.Context)
	if err != nil {
		slog.Error("PostgresStore SaveConversation marshal context failed", "error", err, "id", conversation.ID)
		return err
	}

	query := `
		INSERT INTO conversations (id, customer_id, status, started_at, ended_at, last_activity_at,
			handed_off_to_human, assigned_agent_id, message_ids, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET
			status = EXCLUDED.status,
			ended_at = EXCLUDED.ended_at,
			last_activity_at = EXCLUDED.last_activity_at,
			handed_off_to_human = EXCLUDED.handed_off_to_human,
			assigned_agent_id = EXCLUDED.assigned_agent_id,
			message_ids = EXCLUDED.message_ids,
			context = EXCLUDED.context`

	_, err = s.db.Exec(query, conversation.ID, conversation.CustomerID, string(conversation.Status),
		conversation.StartedAt, normalizeTimePtr(conversation.EndedAt), conversation.LastActivityAt,
		conversation.HandedOffToHuman, conversation.AssignedAgentID, messageIDsJSON, contextJSON)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "id", conversation.ID)
		return fmt.Errorf("failed to save conversation %s: %w", conversation.ID, err)
	}
	slog.Debug("PostgresStore SaveConversation succeeded", "id", conversation.ID, "status", conversation.Status)
	return nil
}

// GetMessage retrieves a message by internal id.
func (s *PostgresStore) GetMessage(id string) (*models.Message, error) {
	query := `SELECT id, conversation_id, customer_id, type, direction, content, timestamp,
			  status, provider_message_id, is_read, read_at
			  FROM messages WHERE id = $1`
	message, err := scanMessage(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetMessage not found", "id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetMessage failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return message, nil
}

// GetMessageByProviderID retrieves a message by the provider-assigned id.
func (s *PostgresStore) GetMessageByProviderID(providerMessageID string) (*models.Message, error) {
	query := `SELECT id, conversation_id, customer_id, type, direction, content, timestamp,
			  status, provider_message_id, is_read, read_at
			  FROM messages WHERE provider_message_id = $1`
	message, err := scanMessage(s.db.QueryRow(query, providerMessageID))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetMessageByProviderID not found", "providerID", providerMessageID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetMessageByProviderID failed", "error", err, "providerID", providerMessageID)
		return nil, fmt.Errorf("failed to get message by provider id %s: %w", providerMessageID, err)
	}
	return message, nil
}

// SaveMessage stores or updates a message.
func (s *PostgresStore) SaveMessage(message models.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, customer_id, type, direction, content,
			timestamp, status, provider_message_id, is_read, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id)
		DO UPDATE SET
			status = EXCLUDED.status,
			provider_message_id = EXCLUDED.provider_message_id,
			is_read = EXCLUDED.is_read,
			read_at = EXCLUDED.read_at`

	_, err := s.db.Exec(query, message.ID, message.ConversationID, message.CustomerID,
		string(message.Type), string(message.Direction), message.Content, message.Timestamp,
		string(message.Status), nilIfEmpty(message.ProviderMessageID), message.Read,
		normalizeTimePtr(message.ReadAt))
	if err != nil {
		slog.Error("PostgresStore SaveMessage failed", "error", err, "id", message.ID)
		return fmt.Errorf("failed to save message %s: %w", message.ID, err)
	}
	slog.Debug("PostgresStore SaveMessage succeeded", "id", message.ID, "direction", message.Direction)
	return nil
}

// ListMessagesByConversation retrieves a conversation's messages in
// chronological order.
func (s *PostgresStore) ListMessagesByConversation(conversationID string) ([]models.Message, error) {
	query := `SELECT id, conversation_id, customer_id, type, direction, content, timestamp,
			  status, provider_message_id, is_read, read_at
			  FROM messages WHERE conversation_id = $1 ORDER BY timestamp ASC`

	rows, err := s.db.Query(query, conversationID)
	if err != nil {
		slog.Error("PostgresStore ListMessagesByConversation query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			slog.Error("PostgresStore ListMessagesByConversation scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListMessagesByConversation rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore ListMessagesByConversation succeeded", "conversationID", conversationID, "count", len(messages))
	return messages, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
