package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestIsValidConversationStatus(t *testing.T) {
	valid := []ConversationStatus{
		ConversationStatusActive,
		ConversationStatusWaitingForCustomer,
		ConversationStatusWaitingForAgent,
		ConversationStatusWaitingHuman,
		ConversationStatusClosed,
	}
	for _, s := range valid {
		if !IsValidConversationStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if IsValidConversationStatus("PAUSED") {
		t.Error("expected PAUSED to be invalid")
	}
}

func TestIsValidMessageStatus(t *testing.T) {
	for _, s := range []MessageStatus{MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed} {
		if !IsValidMessageStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if IsValidMessageStatus("QUEUED") {
		t.Error("expected QUEUED to be invalid")
	}
}

func TestConversationIsClosed(t *testing.T) {
	conv := Conversation{Status: ConversationStatusActive}
	if conv.IsClosed() {
		t.Error("active conversation should not be closed")
	}
	conv.Status = ConversationStatusClosed
	if !conv.IsClosed() {
		t.Error("closed conversation should report closed")
	}
}

func TestInboundMessageValidate(t *testing.T) {
	msg := InboundMessage{FromPhoneNumber: "+5511999999999", TextContent: "Olá"}
	if err := msg.Validate(); err != nil {
		t.Errorf("expected valid message, got %v", err)
	}

	msg = InboundMessage{TextContent: "Olá"}
	if err := msg.Validate(); err != ErrEmptyPhoneNumber {
		t.Errorf("expected ErrEmptyPhoneNumber, got %v", err)
	}

	msg = InboundMessage{FromPhoneNumber: "+5511999999999"}
	if err := msg.Validate(); err != ErrEmptyMessageContent {
		t.Errorf("expected ErrEmptyMessageContent, got %v", err)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	resp := Success(map[string]string{"k": "v"})
	if resp.Status != "ok" || resp.Message != "" {
		t.Errorf("unexpected success response %+v", resp)
	}

	resp = SuccessWithMessage("feito", nil)
	if resp.Status != "ok" || resp.Message != "feito" {
		t.Errorf("unexpected response %+v", resp)
	}

	resp = Error("falhou")
	if resp.Status != "error" || resp.Message != "falhou" {
		t.Errorf("unexpected error response %+v", resp)
	}
}

func TestConversationContextJSONOmitsEmpty(t *testing.T) {
	ctx := ConversationContext{NeedsHumanIntervention: false}
	data, err := json.Marshal(ctx)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, field := range []string{"customer_intent", "last_topic", "identified_entities", "conversation_summary"} {
		if strings.Contains(string(data), field) {
			t.Errorf("expected %s omitted when empty, got %s", field, data)
		}
	}

	ctx = ConversationContext{
		CustomerIntent:    "INFORMACAO",
		LastInteractionAt: time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC),
	}
	data, err = json.Marshal(ctx)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), "INFORMACAO") {
		t.Errorf("expected intent serialized, got %s", data)
	}
}
