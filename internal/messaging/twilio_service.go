package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/zapatende/zapatende/internal/models"
	"github.com/zapatende/zapatende/internal/twiliowhatsapp"
)

// TwilioService is the Service implementation backed by Twilio's WhatsApp
// gateway. Inbound messages and status callbacks arrive as form-encoded
// webhooks, parsed by ParseTwilioInbound and ParseTwilioStatus.
type TwilioService struct {
	client *twiliowhatsapp.Client
}

// NewTwilioService wraps a Twilio WhatsApp client.
func NewTwilioService(client *twiliowhatsapp.Client) *TwilioService {
	return &TwilioService{client: client}
}

// ValidateAndCanonicalizeRecipient normalizes to the "+digits" format Twilio
// expects after its "whatsapp:" prefix.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	digits, err := CanonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	return "+" + digits, nil
}

// SendText delivers a text message through Twilio and returns the message SID.
func (s *TwilioService) SendText(ctx context.Context, to, body string) (string, error) {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", fmt.Errorf("TwilioService.SendText: %w", err)
	}
	sid, err := s.client.SendMessage(ctx, canonical, body)
	if err != nil {
		return "", fmt.Errorf("TwilioService.SendText: %w", err)
	}
	return sid, nil
}

// MarkRead is a no-op: Twilio's WhatsApp API has no read-marking endpoint.
func (s *TwilioService) MarkRead(_ context.Context, providerMessageID string) error {
	slog.Debug("TwilioService.MarkRead: unsupported by Twilio, skipping", "messageID", providerMessageID)
	return nil
}

// Start is a no-op: Twilio is webhook driven.
func (s *TwilioService) Start(_ context.Context) error { return nil }

// Stop is a no-op.
func (s *TwilioService) Stop() {}

// ParseTwilioInbound normalizes an inbound-message webhook form. It returns
// (nil, nil) for forms without a message body, such as status callbacks.
func ParseTwilioInbound(form url.Values) (*models.InboundMessage, error) {
	body := form.Get("Body")
	if body == "" {
		return nil, nil
	}
	from := strings.TrimPrefix(form.Get("From"), "whatsapp:")
	if from == "" {
		return nil, fmt.Errorf("ParseTwilioInbound: %w", models.ErrEmptyPhoneNumber)
	}
	return &models.InboundMessage{
		ProviderMessageID: form.Get("MessageSid"),
		FromPhoneNumber:   from,
		ProfileName:       form.Get("ProfileName"),
		TextContent:       body,
		Timestamp:         time.Now(),
	}, nil
}

// ParseTwilioStatus normalizes a status-callback form. Unrecognized statuses
// return (nil, nil).
func ParseTwilioStatus(form url.Values) (*models.StatusUpdate, error) {
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	if sid == "" {
		return nil, fmt.Errorf("ParseTwilioStatus: missing message sid")
	}

	var status models.MessageStatus
	switch form.Get("MessageStatus") {
	case "sent", "queued", "accepted":
		status = models.MessageStatusSent
	case "delivered":
		status = models.MessageStatusDelivered
	case "read":
		status = models.MessageStatusRead
	case "failed", "undelivered":
		status = models.MessageStatusFailed
	default:
		return nil, nil
	}
	return &models.StatusUpdate{
		ProviderMessageID: sid,
		Status:            status,
		Timestamp:         time.Now(),
	}, nil
}
