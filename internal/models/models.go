// Package models defines the core data structures for ZapAtende.
//
// It includes the Customer, Conversation, and Message entities shared across
// modules, plus the enums and sentinel errors used at component boundaries.
package models

import (
	"errors"
	"time"
)

// CustomerStatus represents the lifecycle status of a customer record.
type CustomerStatus string

const (
	// CustomerStatusActive indicates a customer that can interact with the bot.
	CustomerStatusActive CustomerStatus = "ACTIVE"
	// CustomerStatusInactive indicates a customer that has not interacted recently.
	CustomerStatusInactive CustomerStatus = "INACTIVE"
	// CustomerStatusBlocked indicates a customer that must not receive replies.
	CustomerStatusBlocked CustomerStatus = "BLOCKED"
)

// IsValidCustomerStatus checks if the given customer status is supported.
func IsValidCustomerStatus(s CustomerStatus) bool {
	switch s {
	case CustomerStatusActive, CustomerStatusInactive, CustomerStatusBlocked:
		return true
	default:
		return false
	}
}

// ConversationStatus represents the lifecycle status of a conversation.
type ConversationStatus string

const (
	// ConversationStatusActive indicates the bot is handling the conversation.
	ConversationStatusActive ConversationStatus = "ACTIVE"
	// ConversationStatusWaitingForCustomer indicates the conversation awaits
	// customer input; the next inbound message resumes it to ACTIVE.
	ConversationStatusWaitingForCustomer ConversationStatus = "WAITING_FOR_CUSTOMER"
	// ConversationStatusWaitingForAgent indicates the conversation was handed off to a human agent.
	ConversationStatusWaitingForAgent ConversationStatus = "WAITING_FOR_AGENT"
	// ConversationStatusWaitingHuman is a legacy alias status for human handoff kept for API compatibility.
	ConversationStatusWaitingHuman ConversationStatus = "WAITING_HUMAN"
	// ConversationStatusClosed is terminal; a later message opens a fresh conversation.
	ConversationStatusClosed ConversationStatus = "CLOSED"
)

// IsValidConversationStatus checks if the given conversation status is supported.
func IsValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationStatusActive, ConversationStatusWaitingForCustomer,
		ConversationStatusWaitingForAgent, ConversationStatusWaitingHuman,
		ConversationStatusClosed:
		return true
	default:
		return false
	}
}

// MessageType represents the content type of a WhatsApp message.
type MessageType string

const (
	MessageTypeText        MessageType = "TEXT"
	MessageTypeImage       MessageType = "IMAGE"
	MessageTypeAudio       MessageType = "AUDIO"
	MessageTypeVideo       MessageType = "VIDEO"
	MessageTypeDocument    MessageType = "DOCUMENT"
	MessageTypeLocation    MessageType = "LOCATION"
	MessageTypeInteractive MessageType = "INTERACTIVE"
)

// MessageDirection distinguishes inbound customer messages from outbound replies.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "INBOUND"
	DirectionOutbound MessageDirection = "OUTBOUND"
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "SENT"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "DELIVERED"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "READ"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "FAILED"
)

// IsValidMessageStatus checks if the given message status is supported.
func IsValidMessageStatus(s MessageStatus) bool {
	switch s {
	case MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed:
		return true
	default:
		return false
	}
}

// Sentinel errors surfaced at component boundaries.
var (
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationClosed   = errors.New("conversation is closed")
	ErrEmptyPhoneNumber     = errors.New("phone number cannot be empty")
	ErrEmptyMessageContent  = errors.New("message content cannot be empty")
	ErrInvalidStatus        = errors.New("invalid status value")
)

// Customer represents a WhatsApp customer identified by phone number.
type Customer struct {
	ID          string            `json:"id"`
	PhoneNumber string            `json:"phone_number"` // E.164-ish, unique external identity
	Name        string            `json:"name,omitempty"`
	Email       string            `json:"email,omitempty"`
	Status      CustomerStatus    `json:"status"`
	OptedIn     bool              `json:"opted_in"`
	Preferences map[string]string `json:"preferences,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ConversationContext is the mutable, conversation-scoped summary of detected
// intent, topic, and entities used to steer LLM prompting. It is owned
// exclusively by its Conversation.
type ConversationContext struct {
	CustomerIntent          string    `json:"customer_intent,omitempty"`
	LastTopic               string    `json:"last_topic,omitempty"`
	IdentifiedEntities      []string  `json:"identified_entities,omitempty"` // replaced, never appended, on each update
	NeedsHumanIntervention  bool      `json:"needs_human_intervention"`
	GPTContext              string    `json:"gpt_context,omitempty"`
	ConversationSummary     string    `json:"conversation_summary,omitempty"`
	LastInteractionAt       time.Time `json:"last_interaction_at,omitempty"`
}

// Conversation represents a bounded exchange between one customer and the bot.
type Conversation struct {
	ID               string              `json:"id"`
	CustomerID       string              `json:"customer_id"`
	Status           ConversationStatus  `json:"status"`
	StartedAt        time.Time           `json:"started_at"`
	EndedAt          *time.Time          `json:"ended_at,omitempty"`
	LastActivityAt   time.Time           `json:"last_activity_at"`
	HandedOffToHuman bool                `json:"handed_off_to_human"`
	AssignedAgentID  string              `json:"assigned_agent_id,omitempty"`
	MessageIDs       []string            `json:"message_ids,omitempty"` // insertion order = chronological
	Context          ConversationContext `json:"context"`
}

// IsClosed reports whether the conversation reached its terminal state.
func (c *Conversation) IsClosed() bool {
	return c.Status == ConversationStatusClosed
}

// Message represents a single inbound or outbound WhatsApp message.
type Message struct {
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversation_id"`
	CustomerID        string           `json:"customer_id"`
	Type              MessageType      `json:"type"`
	Direction         MessageDirection `json:"direction"`
	Content           string           `json:"content"`
	Timestamp         time.Time        `json:"timestamp"`
	Status            MessageStatus    `json:"status"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"` // id assigned by the messaging platform
	Read              bool             `json:"read"`
	ReadAt            *time.Time       `json:"read_at,omitempty"`
}

// InboundMessage is the normalized tuple produced by the messaging client's
// webhook payload parser. Only text messages yield an InboundMessage.
type InboundMessage struct {
	ProviderMessageID string    `json:"provider_message_id"`
	FromPhoneNumber   string    `json:"from_phone_number"`
	ProfileName       string    `json:"profile_name,omitempty"`
	TextContent       string    `json:"text_content"`
	Timestamp         time.Time `json:"timestamp"`
}

// Validate performs basic validation on a normalized inbound message.
func (m *InboundMessage) Validate() error {
	if m.FromPhoneNumber == "" {
		return ErrEmptyPhoneNumber
	}
	if m.TextContent == "" {
		return ErrEmptyMessageContent
	}
	return nil
}

// StatusUpdate is a normalized delivery/read status callback for a previously
// sent message, keyed by the provider-assigned message id.
type StatusUpdate struct {
	ProviderMessageID string        `json:"provider_message_id"`
	Status            MessageStatus `json:"status"`
	Timestamp         time.Time     `json:"timestamp"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
