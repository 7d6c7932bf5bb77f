package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/zapatende/zapatende/internal/models"
	"github.com/zapatende/zapatende/internal/whatsapp"
)

// readContext remembers where an inbound message came from so it can be
// marked read later. The Service interface only carries the message id.
type readContext struct {
	chat   types.JID
	sender types.JID
}

// WhatsmeowService is the Service implementation backed by a direct
// WhatsApp Web connection through whatsmeow. Inbound messages and receipts
// are delivered through registered handlers instead of a webhook.
type WhatsmeowService struct {
	waClient *whatsapp.Client

	onInbound func(models.InboundMessage)
	onReceipt func(models.StatusUpdate)

	mu        sync.Mutex
	readCtx   map[string]readContext
	handlerID uint32
}

// NewWhatsmeowService wraps a connected whatsapp.Client.
func NewWhatsmeowService(waClient *whatsapp.Client) *WhatsmeowService {
	return &WhatsmeowService{
		waClient: waClient,
		readCtx:  make(map[string]readContext),
	}
}

// OnInbound registers the handler for incoming text messages. Must be called
// before Start.
func (s *WhatsmeowService) OnInbound(handler func(models.InboundMessage)) {
	s.onInbound = handler
}

// OnReceipt registers the handler for delivery and read receipts. Must be
// called before Start.
func (s *WhatsmeowService) OnReceipt(handler func(models.StatusUpdate)) {
	s.onReceipt = handler
}

// ValidateAndCanonicalizeRecipient normalizes to the digits-only user part of
// a WhatsApp JID.
func (s *WhatsmeowService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// SendText delivers a text message over the WhatsApp connection.
func (s *WhatsmeowService) SendText(ctx context.Context, to, body string) (string, error) {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", fmt.Errorf("WhatsmeowService.SendText: %w", err)
	}
	id, err := s.waClient.SendMessage(ctx, canonical, body)
	if err != nil {
		return "", fmt.Errorf("WhatsmeowService.SendText: %w", err)
	}
	return id, nil
}

// MarkRead marks a previously received message as read, using the chat
// recorded when the message arrived. Unknown ids are skipped quietly.
func (s *WhatsmeowService) MarkRead(_ context.Context, providerMessageID string) error {
	s.mu.Lock()
	rc, ok := s.readCtx[providerMessageID]
	if ok {
		delete(s.readCtx, providerMessageID)
	}
	s.mu.Unlock()
	if !ok {
		slog.Debug("WhatsmeowService.MarkRead: no chat recorded for message", "messageID", providerMessageID)
		return nil
	}
	if err := s.waClient.MarkRead(providerMessageID, rc.chat, rc.sender, time.Now()); err != nil {
		return fmt.Errorf("WhatsmeowService.MarkRead: %w", err)
	}
	return nil
}

// Start registers the event handler on the underlying client.
func (s *WhatsmeowService) Start(_ context.Context) error {
	cli := s.waClient.GetClient()
	if cli == nil {
		return fmt.Errorf("WhatsmeowService.Start: whatsapp client not available")
	}
	s.handlerID = cli.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleMessage(v)
		case *events.Receipt:
			s.handleReceipt(v)
		}
	})
	slog.Debug("WhatsmeowService.Start: event handler registered")
	return nil
}

// Stop disconnects from WhatsApp.
func (s *WhatsmeowService) Stop() {
	if cli := s.waClient.GetClient(); cli != nil && s.handlerID != 0 {
		cli.RemoveEventHandler(s.handlerID)
	}
	s.waClient.Disconnect()
}

// handleMessage normalizes a whatsmeow message event and forwards it. Only
// text content is forwarded; media messages are dropped.
func (s *WhatsmeowService) handleMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || s.onInbound == nil {
		return
	}

	var text string
	if evt.Message.Conversation != nil {
		text = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		text = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsmeowService.handleMessage: ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	s.mu.Lock()
	s.readCtx[string(evt.Info.ID)] = readContext{chat: evt.Info.Chat, sender: evt.Info.Sender}
	s.mu.Unlock()

	s.onInbound(models.InboundMessage{
		ProviderMessageID: string(evt.Info.ID),
		FromPhoneNumber:   "+" + evt.Info.Sender.User,
		ProfileName:       evt.Info.PushName,
		TextContent:       text,
		Timestamp:         evt.Info.Timestamp,
	})
}

// handleReceipt forwards delivery and read receipts for messages we sent.
func (s *WhatsmeowService) handleReceipt(evt *events.Receipt) {
	if s.onReceipt == nil {
		return
	}

	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}

	for _, id := range evt.MessageIDs {
		s.onReceipt(models.StatusUpdate{
			ProviderMessageID: string(id),
			Status:            status,
			Timestamp:         evt.Timestamp,
		})
	}
}
