// Package store provides storage backends for ZapAtende.
//
// This file implements the SQLite-backed store for single-node deployments.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zapatende/zapatende/internal/models"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store based on provided options.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite database", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")
	return &SQLiteStore{db: db}, nil
}

// GetCustomer retrieves a customer by internal id.
func (s *SQLiteStore) GetCustomer(id string) (*models.Customer, error) {
	query := `SELECT id, phone_number, name, email, status, opted_in, preferences, created_at, updated_at
			  FROM customers WHERE id = ?`
	customer, err := scanCustomer(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCustomer failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get customer %s: %w", id, err)
	}
	return customer, nil
}

// GetCustomerByPhone retrieves a customer by phone number.
func (s *SQLiteStore) GetCustomerByPhone(phoneNumber string) (*models.Customer, error) {
	query := `SELECT id, phone_number, name, email, status, opted_in, preferences, created_at, updated_at
			  FROM customers WHERE phone_number = ?`
	customer, err := scanCustomer(s.db.QueryRow(query, phoneNumber))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCustomerByPhone failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to get customer by phone %s: %w", phoneNumber, err)
	}
	return customer, nil
}

// SaveCustomer stores or updates a customer.
func (s *SQLiteStore) SaveCustomer(customer models.Customer) error {
	prefsJSON, err := marshalJSONColumn(customer.Preferences)
	if err != nil {
		slog.Error("SQLiteStore SaveCustomer marshal failed", "error", err, "id", customer.ID)
		return err
	}

	query := `
		INSERT INTO customers (id, phone_number, name, email, status, opted_in, preferences, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			phone_number = excluded.phone_number,
			name = excluded.name,
			email = excluded.email,
			status = excluded.status,
			opted_in = excluded.opted_in,
			preferences = excluded.preferences,
			updated_at = excluded.updated_at`

	_, err = s.db.Exec(query, customer.ID, customer.PhoneNumber, customer.Name, customer.Email,
		string(customer.Status), customer.OptedIn, prefsJSON, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveCustomer failed", "error", err, "id", customer.ID)
		return fmt.Errorf("failed to save customer %s: %w", customer.ID, err)
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(id string) (*models.Conversation, error) {
	query := `SELECT id, customer_id, status, started_at, ended_at, last_activity_at,
			  handed_off_to_human, assigned_agent_id, message_ids, context
			  FROM conversations WHERE id = ?`
	conversation, err := scanConversation(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return conversation, nil
}

// ListConversationsByCustomer retrieves a customer's conversations ordered by
// start time descending.
func (s *SQLiteStore) ListConversationsByCustomer(customerID string) ([]models.Conversation, error) {
	query := `SELECT id, customer_id, status, started_at, ended_at, last_activity_at,
			  handed_off_to_human, assigned_agent_id, message_ids, context
			  FROM conversations WHERE customer_id = ? ORDER BY started_at DESC`

	rows, err := s.db.Query(query, customerID)
	if err != nil {
		slog.Error("SQLiteStore ListConversationsByCustomer query failed", "error", err, "customerID", customerID)
		return nil, fmt.Errorf("failed to query conversations for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			slog.Error("SQLiteStore ListConversationsByCustomer scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, *conversation)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListConversationsByCustomer rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return conversations, nil
}

// ListOpenConversations retrieves every conversation not yet closed, ordered
// by start time descending.
func (s *SQLiteStore) ListOpenConversations() ([]models.Conversation, error) {
	query := `SELECT id, customer_id, status, started_at, ended_at, last_activity_at,
			  handed_off_to_human, assigned_agent_id, message_ids, context
			  FROM conversations WHERE status != ? ORDER BY started_at DESC`

	rows, err := s.db.Query(query, string(models.ConversationStatusClosed))
	if err != nil {
		slog.Error("SQLiteStore ListOpenConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query open conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conversation, err := scanConversation(rows)
		if err != nil {
			slog.Error("SQLiteStore ListOpenConversations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, *conversation)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListOpenConversations rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return conversations, nil
}

// SaveConversation stores or updates a conversation.
func (s *SQLiteStore) SaveConversation(conversation models.Conversation) error {
	messageIDsJSON, err := marshalJSONColumn(conversation.MessageIDs)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation marshal message ids failed", "error", err, "id", conversation.ID)
		return err
	}
	contextJSON, err := marshalJSONColumn(conversation.Context)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation marshal context failed", "error", err, "id", conversation.ID)
		return err
	}

	query := `
		INSERT INTO conversations (id, customer_id, status, started_at, ended_at, last_activity_at,
			handed_off_to_human, assigned_agent_id, message_ids, context)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			status = excluded.status,
			ended_at = excluded.ended_at,
			last_activity_at = excluded.last_activity_at,
			handed_off_to_human = excluded.handed_off_to_human,
			assigned_agent_id = excluded.assigned_agent_id,
			message_ids = excluded.message_ids,
			context = excluded.context`

	_, err = s.db.Exec(query, conversation.ID, conversation.CustomerID, string(conversation.Status),
		conversation.StartedAt, normalizeTimePtr(conversation.EndedAt), conversation.LastActivityAt,
		conversation.HandedOffToHuman, conversation.AssignedAgentID, messageIDsJSON, contextJSON)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "id", conversation.ID)
		return fmt.Errorf("failed to save conversation %s: %w", conversation.ID, err)
	}
	return nil
}

// GetMessage retrieves a message by internal id.
func (s *SQLiteStore) GetMessage(id string) (*models.Message, error) {
	query := `SELECT id, conversation_id, customer_id, type, direction, content, timestamp,
			  status, provider_message_id, is_read, read_at
			  FROM messages WHERE id = ?`
	message, err := scanMessage(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetMessage failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return message, nil
}

// GetMessageByProviderID retrieves a message by the provider-assigned id.
func (s *SQLiteStore) GetMessageByProviderID(providerMessageID string) (*models.Message, error) {
	query := `SELECT id, conversation_id, customer_id, type, direction, content, timestamp,
			  status, provider_message_id, is_read, read_at
			  FROM messages WHERE provider_message_id = ?`
	message, err := scanMessage(s.db.QueryRow(query, providerMessageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetMessageByProviderID failed", "error", err, "providerID", providerMessageID)
		return nil, fmt.Errorf("failed to get message by provider id %s: %w", providerMessageID, err)
	}
	return message, nil
}

// SaveMessage stores or updates a message.
func (s *SQLiteStore) SaveMessage(message models.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, customer_id, type, direction, content,
			timestamp, status, provider_message_id, is_read, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			status = excluded.status,
			provider_message_id = excluded.provider_message_id,
			is_read = excluded.is_read,
			read_at = excluded.read_at`

	_, err := s.db.Exec(query, message.ID, message.ConversationID, message.CustomerID,
		string(message.Type), string(message.Direction), message.Content, message.Timestamp,
		string(message.Status), nilIfEmpty(message.ProviderMessageID), message.Read,
		normalizeTimePtr(message.ReadAt))
	if err != nil {
		slog.Error("SQLiteStore SaveMessage failed", "error", err, "id", message.ID)
		return fmt.Errorf("failed to save message %s: %w", message.ID, err)
	}
	return nil
}

// ListMessagesByConversation retrieves a conversation's messages in
// chronological order.
func (s *SQLiteStore) ListMessagesByConversation(conversationID string) ([]models.Message, error) {
	query := `SELECT id, conversation_id, customer_id, type, direction, content, timestamp,
			  status, provider_message_id, is_read, read_at
			  FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC`

	rows, err := s.db.Query(query, conversationID)
	if err != nil {
		slog.Error("SQLiteStore ListMessagesByConversation query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			slog.Error("SQLiteStore ListMessagesByConversation scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListMessagesByConversation rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
