package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zapatende/zapatende/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalJSONColumn serializes v for a JSON column, returning nil for empty values.
func marshalJSONColumn(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal JSON column failed: %w", err)
	}
	return data, nil
}

// scanCustomer scans a customer row in the column order used by both SQL backends.
func scanCustomer(row rowScanner) (*models.Customer, error) {
	var c models.Customer
	var status string
	var prefsJSON []byte
	err := row.Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.Email, &status,
		&c.OptedIn, &prefsJSON, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.CustomerStatus(status)
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &c.Preferences); err != nil {
			return nil, fmt.Errorf("unmarshal customer preferences failed: %w", err)
		}
	}
	return &c, nil
}

// scanConversation scans a conversation row in the column order used by both SQL backends.
func scanConversation(row rowScanner) (*models.Conversation, error) {
	var c models.Conversation
	var status, agentID string
	var endedAt sql.NullTime
	var messageIDsJSON, contextJSON []byte
	err := row.Scan(&c.ID, &c.CustomerID, &status, &c.StartedAt, &endedAt,
		&c.LastActivityAt, &c.HandedOffToHuman, &agentID, &messageIDsJSON, &contextJSON)
	if err != nil {
		return nil, err
	}
	c.Status = models.ConversationStatus(status)
	c.AssignedAgentID = agentID
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if len(messageIDsJSON) > 0 {
		if err := json.Unmarshal(messageIDsJSON, &c.MessageIDs); err != nil {
			return nil, fmt.Errorf("unmarshal conversation message ids failed: %w", err)
		}
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &c.Context); err != nil {
			return nil, fmt.Errorf("unmarshal conversation context failed: %w", err)
		}
	}
	return &c, nil
}

// scanMessage scans a message row in the column order used by both SQL backends.
func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var msgType, direction, status string
	var providerID sql.NullString
	var readAt sql.NullTime
	err := row.Scan(&m.ID, &m.ConversationID, &m.CustomerID, &msgType, &direction,
		&m.Content, &m.Timestamp, &status, &providerID, &m.Read, &readAt)
	if err != nil {
		return nil, err
	}
	m.Type = models.MessageType(msgType)
	m.Direction = models.MessageDirection(direction)
	m.Status = models.MessageStatus(status)
	m.ProviderMessageID = providerID.String
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	return &m, nil
}

// normalizeTimePtr returns a pointer's time or nil for SQL parameters.
func normalizeTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
