// Package bot orchestrates inbound WhatsApp messages end to end.
//
// The Orchestrator glues the pieces together: it resolves the customer and
// conversation, persists both sides of the exchange, decides between an LLM
// reply and a human handoff, and applies delivery and read status callbacks.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zapatende/zapatende/internal/cache"
	"github.com/zapatende/zapatende/internal/conversation"
	"github.com/zapatende/zapatende/internal/genai"
	"github.com/zapatende/zapatende/internal/messaging"
	"github.com/zapatende/zapatende/internal/models"
	"github.com/zapatende/zapatende/internal/prompt"
	"github.com/zapatende/zapatende/internal/store"
)

const (
	// DefaultSummaryThreshold is the minimum message count before summaries
	// are refreshed.
	DefaultSummaryThreshold = 4

	// DefaultIdleCloseAfter is how long a conversation may sit without
	// activity before the idle sweep closes it.
	DefaultIdleCloseAfter = 24 * time.Hour

	// classifierCacheTTL bounds how long classifier outputs are reused for
	// identical inputs.
	classifierCacheTTL = 10 * time.Minute
)

// Canned replies. The fallback goes out when the LLM fails; the handoff notice
// goes out once when a conversation is transferred to an agent.
const (
	fallbackReply = "Desculpe, estou com dificuldades técnicas no momento. Por favor, tente novamente em alguns instantes."
	handoffReply  = "Entendi. Vou transferir você para um de nossos atendentes. Por favor, aguarde um momento."
)

// Config holds orchestration settings.
type Config struct {
	// SummaryEnabled gates opportunistic conversation summaries.
	SummaryEnabled bool
	// SummaryThreshold is the minimum message count before a summary is
	// generated. Zero or negative uses DefaultSummaryThreshold.
	SummaryThreshold int
	// IdleCloseAfter is the inactivity window for the idle sweep. Zero or
	// negative uses DefaultIdleCloseAfter.
	IdleCloseAfter time.Duration
}

// Orchestrator coordinates message processing across the conversation layer,
// the LLM client, and the messaging transport.
type Orchestrator struct {
	mgr       *conversation.Manager
	llm       genai.ClientInterface
	builder   *prompt.Builder
	messenger messaging.Service
	st        store.Store
	respCache cache.ResponseCache
	cfg       Config
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator. respCache may be nil to disable
// classifier caching.
func NewOrchestrator(mgr *conversation.Manager, llm genai.ClientInterface, builder *prompt.Builder,
	messenger messaging.Service, st store.Store, respCache cache.ResponseCache, cfg Config) *Orchestrator {
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = DefaultSummaryThreshold
	}
	if cfg.IdleCloseAfter <= 0 {
		cfg.IdleCloseAfter = DefaultIdleCloseAfter
	}
	return &Orchestrator{
		mgr:       mgr,
		llm:       llm,
		builder:   builder,
		messenger: messenger,
		st:        st,
		respCache: respCache,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ProcessInboundMessage runs the full pipeline for one inbound customer
// message: dedupe, customer and conversation resolution, persistence, and
// response generation. Redeliveries of an already processed provider message
// id are acknowledged without side effects.
func (o *Orchestrator) ProcessInboundMessage(ctx context.Context, inbound models.InboundMessage) error {
	if err := inbound.Validate(); err != nil {
		return fmt.Errorf("Orchestrator.ProcessInboundMessage: invalid message: %w", err)
	}

	if inbound.ProviderMessageID != "" {
		existing, err := o.st.GetMessageByProviderID(inbound.ProviderMessageID)
		if err != nil {
			return fmt.Errorf("Orchestrator.ProcessInboundMessage: dedupe lookup failed: %w", err)
		}
		if existing != nil {
			slog.Debug("Orchestrator.ProcessInboundMessage: duplicate delivery skipped",
				"providerMessageID", inbound.ProviderMessageID)
			return nil
		}
	}

	customer, err := o.mgr.GetOrCreateCustomer(inbound.FromPhoneNumber, inbound.ProfileName)
	if err != nil {
		return fmt.Errorf("Orchestrator.ProcessInboundMessage: %w", err)
	}
	if customer.Status == models.CustomerStatusBlocked {
		slog.Info("Orchestrator.ProcessInboundMessage: ignoring message from blocked customer",
			"customerID", customer.ID)
		return nil
	}

	conv, err := o.mgr.GetOrCreateActiveConversation(customer.ID)
	if err != nil {
		return fmt.Errorf("Orchestrator.ProcessInboundMessage: %w", err)
	}
	if conv.Status == models.ConversationStatusWaitingForCustomer {
		// Customer replied; the conversation resumes.
		conv.Status = models.ConversationStatusActive
	}

	if _, err := o.mgr.SaveUserMessage(conv, inbound); err != nil {
		return fmt.Errorf("Orchestrator.ProcessInboundMessage: %w", err)
	}

	if inbound.ProviderMessageID != "" {
		if err := o.messenger.MarkRead(ctx, inbound.ProviderMessageID); err != nil {
			slog.Warn("Orchestrator.ProcessInboundMessage: mark-read failed",
				"providerMessageID", inbound.ProviderMessageID, "error", err)
		}
	}

	reply, err := o.generateResponse(ctx, conv, inbound.TextContent)
	if err != nil {
		return fmt.Errorf("Orchestrator.ProcessInboundMessage: %w", err)
	}
	if reply == "" {
		// Conversation is with a human agent; the bot stays silent. The
		// handoff path sends its own notification.
		return nil
	}

	msg, err := o.mgr.SaveAssistantResponse(conv, reply, "")
	if err != nil {
		return fmt.Errorf("Orchestrator.ProcessInboundMessage: %w", err)
	}
	o.deliverOutbound(ctx, customer.PhoneNumber, msg)

	conv.Status = o.determineConversationState(conv)
	if err := o.st.SaveConversation(*conv); err != nil {
		return fmt.Errorf("Orchestrator.ProcessInboundMessage: failed to persist conversation state: %w", err)
	}

	slog.Info("Orchestrator.ProcessInboundMessage: replied",
		"customerID", customer.ID, "conversationID", conv.ID, "messageID", msg.ID)
	return nil
}

// deliverOutbound attempts delivery of an already persisted outbound message
// and records the provider id on success. A message that carries a provider id
// was delivered before and is not re-sent. Send failures are logged and
// swallowed: the stored record is authoritative, delivery is best-effort.
func (o *Orchestrator) deliverOutbound(ctx context.Context, to string, msg *models.Message) {
	if msg.ProviderMessageID != "" {
		return
	}
	providerID, err := o.messenger.SendText(ctx, to, msg.Content)
	if err != nil {
		slog.Warn("Orchestrator.deliverOutbound: send failed", "messageID", msg.ID, "error", err)
		return
	}
	msg.ProviderMessageID = providerID
	if err := o.st.SaveMessage(*msg); err != nil {
		slog.Error("Orchestrator.deliverOutbound: failed to record provider id",
			"messageID", msg.ID, "providerMessageID", providerID, "error", err)
	}
}

// generateResponse decides what, if anything, the bot answers. It returns the
// empty string when the conversation already belongs to a human agent or when
// a handoff was triggered, since TransferToHuman sends its own notification.
// LLM failures degrade: classifier errors count as a handoff signal, reply
// errors produce the canned fallback.
func (o *Orchestrator) generateResponse(ctx context.Context, conv *models.Conversation, message string) (string, error) {
	if conv.HandedOffToHuman {
		slog.Debug("Orchestrator.generateResponse: conversation with agent, staying silent",
			"conversationID", conv.ID)
		return "", nil
	}

	// A context already flagged for intervention skips the classifier call.
	if conv.Context.NeedsHumanIntervention || o.classifyNeedsHuman(ctx, conv, message) {
		if err := o.TransferToHuman(ctx, conv.ID, ""); err != nil {
			return "", fmt.Errorf("failed to transfer conversation: %w", err)
		}
		return "", nil
	}

	history, err := o.mgr.GetConversationHistory(conv.ID, 0)
	if err != nil {
		slog.Warn("Orchestrator.generateResponse: history unavailable", "conversationID", conv.ID, "error", err)
		history = nil
	}
	formatted := o.mgr.FormatConversationHistory(history)

	userPrompt := o.builder.Build(message, formatted, conv)
	reply, err := o.llm.GenerateReply(ctx, o.builder.SystemPrompt(conv), userPrompt)
	if err != nil {
		slog.Error("Orchestrator.generateResponse: LLM reply failed", "conversationID", conv.ID, "error", err)
		return fallbackReply, nil
	}

	o.updateContextAfterReply(ctx, conv, message, history)
	return reply, nil
}

// classifyNeedsHuman runs the binary handoff classifier, reusing cached
// verdicts for identical message/context pairs. Classifier failure counts as
// a handoff signal so uncertain cases reach a person.
func (o *Orchestrator) classifyNeedsHuman(ctx context.Context, conv *models.Conversation, message string) bool {
	contextInfo := contextInfoForClassifier(conv)
	promptText := o.builder.BuildHumanIntervention(message, contextInfo)

	cacheKey := cache.Key("handoff", promptText)
	if o.respCache != nil {
		if cached, found, err := o.respCache.Get(ctx, cacheKey); err == nil && found {
			return cached == "SIM"
		}
	}

	needsHuman, err := o.llm.ClassifyNeedsHuman(ctx, promptText)
	if err != nil {
		slog.Warn("Orchestrator.classifyNeedsHuman: classifier failed, assuming handoff",
			"conversationID", conv.ID, "error", err)
		return true
	}

	if o.respCache != nil {
		verdict := "NAO"
		if needsHuman {
			verdict = "SIM"
		}
		if err := o.respCache.Set(ctx, cacheKey, verdict, classifierCacheTTL); err != nil {
			slog.Debug("Orchestrator.classifyNeedsHuman: cache write failed", "error", err)
		}
	}
	return needsHuman
}

// contextInfoForClassifier renders the context fields relevant to the handoff
// decision.
func contextInfoForClassifier(conv *models.Conversation) string {
	var lines []string
	if conv.Context.CustomerIntent != "" {
		lines = append(lines, "Intenção do cliente: "+conv.Context.CustomerIntent)
	}
	if conv.Context.LastTopic != "" {
		lines = append(lines, "Último tópico: "+conv.Context.LastTopic)
	}
	if conv.Context.ConversationSummary != "" {
		lines = append(lines, "Resumo da conversa: "+conv.Context.ConversationSummary)
	}
	return strings.Join(lines, "\n")
}

// updateContextAfterReply opportunistically refreshes intent, entities, and
// the summary. Failures here never block the reply; they only log.
func (o *Orchestrator) updateContextAfterReply(ctx context.Context, conv *models.Conversation,
	message string, history []models.Message) {
	intent := o.analyzeIntentCached(ctx, message)
	entities, err := o.llm.ExtractEntities(ctx, o.builder.BuildEntityExtraction(message))
	if err != nil {
		slog.Debug("Orchestrator.updateContextAfterReply: entity extraction failed", "error", err)
		entities = nil
	}
	// The leading entity is the best topic signal available from the
	// extraction; an empty result keeps the previous topic.
	topic := ""
	if len(entities) > 0 {
		topic = entities[0]
	}
	if err := o.mgr.UpdateConversationContext(conv, intent, topic, entities); err != nil {
		slog.Warn("Orchestrator.updateContextAfterReply: context update failed",
			"conversationID", conv.ID, "error", err)
	}

	if o.cfg.SummaryEnabled && len(history)+1 >= o.cfg.SummaryThreshold {
		summary, err := o.llm.Summarize(ctx, o.builder.BuildSummary(o.mgr.FormatConversationHistory(history)))
		if err != nil {
			slog.Debug("Orchestrator.updateContextAfterReply: summary failed", "error", err)
			return
		}
		if err := o.mgr.UpdateConversationSummary(conv, summary); err != nil {
			slog.Warn("Orchestrator.updateContextAfterReply: summary update failed",
				"conversationID", conv.ID, "error", err)
		}
	}
}

// analyzeIntentCached classifies intent with cache reuse. Errors yield an
// empty intent, which leaves the stored one untouched.
func (o *Orchestrator) analyzeIntentCached(ctx context.Context, message string) string {
	promptText := o.builder.BuildIntentAnalysis(message)
	cacheKey := cache.Key("intent", promptText)

	if o.respCache != nil {
		if cached, found, err := o.respCache.Get(ctx, cacheKey); err == nil && found {
			return cached
		}
	}

	intent, err := o.llm.AnalyzeIntent(ctx, promptText)
	if err != nil {
		slog.Debug("Orchestrator.analyzeIntentCached: intent analysis failed", "error", err)
		return ""
	}
	if o.respCache != nil && intent != "" {
		if err := o.respCache.Set(ctx, cacheKey, intent, classifierCacheTTL); err != nil {
			slog.Debug("Orchestrator.analyzeIntentCached: cache write failed", "error", err)
		}
	}
	return intent
}

// determineConversationState picks the status a conversation lands in after
// the bot replied. A bot reply keeps the conversation ACTIVE; only a handoff
// or an explicit close moves it out.
func (o *Orchestrator) determineConversationState(conv *models.Conversation) models.ConversationStatus {
	if conv.IsClosed() {
		return models.ConversationStatusClosed
	}
	if conv.HandedOffToHuman {
		return models.ConversationStatusWaitingForAgent
	}
	return models.ConversationStatusActive
}

// TransferToHuman hands a conversation off to a human agent and notifies the
// customer with the fixed transfer notice, embedding the reason when one is
// given. The notice is persisted before delivery is attempted; a send failure
// never rolls the handoff back. Transferring a conversation already with an
// agent is a no-op and sends no duplicate notice; transferring a closed
// conversation fails.
func (o *Orchestrator) TransferToHuman(ctx context.Context, conversationID, reason string) error {
	conv, err := o.st.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("Orchestrator.TransferToHuman: failed to load conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("Orchestrator.TransferToHuman: %w: %s", models.ErrConversationNotFound, conversationID)
	}
	if conv.IsClosed() {
		return fmt.Errorf("Orchestrator.TransferToHuman: %w: %s", models.ErrConversationClosed, conversationID)
	}
	if conv.HandedOffToHuman {
		return nil
	}

	customer, err := o.st.GetCustomer(conv.CustomerID)
	if err != nil {
		return fmt.Errorf("Orchestrator.TransferToHuman: failed to load customer: %w", err)
	}
	if customer == nil {
		return fmt.Errorf("Orchestrator.TransferToHuman: %w: %s", models.ErrCustomerNotFound, conv.CustomerID)
	}

	conv.HandedOffToHuman = true
	conv.Status = models.ConversationStatusWaitingForAgent
	if err := o.mgr.SetNeedsHumanIntervention(conv, true); err != nil {
		return fmt.Errorf("Orchestrator.TransferToHuman: %w", err)
	}

	notice := handoffReply
	if reason != "" {
		notice = handoffReply + " Motivo: " + reason
	}
	msg, err := o.mgr.SaveAssistantResponse(conv, notice, "")
	if err != nil {
		return fmt.Errorf("Orchestrator.TransferToHuman: failed to persist transfer notice: %w", err)
	}
	o.deliverOutbound(ctx, customer.PhoneNumber, msg)

	slog.Info("Orchestrator.TransferToHuman: conversation handed off",
		"conversationID", conversationID, "reason", reason)
	return nil
}

// ProcessMessageStatusUpdate applies a delivery status callback to the message
// identified by its provider id. Read status is terminal and never downgraded.
func (o *Orchestrator) ProcessMessageStatusUpdate(update models.StatusUpdate) error {
	if !models.IsValidMessageStatus(update.Status) {
		return fmt.Errorf("Orchestrator.ProcessMessageStatusUpdate: %w: %q", models.ErrInvalidStatus, update.Status)
	}
	msg, err := o.st.GetMessageByProviderID(update.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("Orchestrator.ProcessMessageStatusUpdate: lookup failed: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("Orchestrator.ProcessMessageStatusUpdate: %w: provider id %s",
			models.ErrMessageNotFound, update.ProviderMessageID)
	}

	if msg.Status == models.MessageStatusRead && update.Status != models.MessageStatusRead {
		slog.Debug("Orchestrator.ProcessMessageStatusUpdate: ignoring downgrade from READ",
			"providerMessageID", update.ProviderMessageID, "status", update.Status)
		return nil
	}

	msg.Status = update.Status
	if update.Status == models.MessageStatusRead {
		msg.Read = true
		ts := update.Timestamp
		if ts.IsZero() {
			ts = o.now()
		}
		msg.ReadAt = &ts
	}
	if err := o.st.SaveMessage(*msg); err != nil {
		return fmt.Errorf("Orchestrator.ProcessMessageStatusUpdate: failed to save message: %w", err)
	}
	return nil
}

// ProcessReadReceipt marks a sent message as read. Unknown provider ids are a
// soft miss: providers replay receipts for messages that predate this
// deployment.
func (o *Orchestrator) ProcessReadReceipt(providerMessageID string, at time.Time) (bool, error) {
	msg, err := o.st.GetMessageByProviderID(providerMessageID)
	if err != nil {
		return false, fmt.Errorf("Orchestrator.ProcessReadReceipt: lookup failed: %w", err)
	}
	if msg == nil {
		slog.Debug("Orchestrator.ProcessReadReceipt: unknown provider id", "providerMessageID", providerMessageID)
		return false, nil
	}
	if msg.Read {
		return true, nil
	}

	msg.Status = models.MessageStatusRead
	msg.Read = true
	if at.IsZero() {
		at = o.now()
	}
	msg.ReadAt = &at
	if err := o.st.SaveMessage(*msg); err != nil {
		return false, fmt.Errorf("Orchestrator.ProcessReadReceipt: failed to save message: %w", err)
	}
	return true, nil
}

// CloseIdleConversations closes every open conversation whose last activity is
// older than the configured idle window. It returns how many were closed.
func (o *Orchestrator) CloseIdleConversations() (int, error) {
	open, err := o.st.ListOpenConversations()
	if err != nil {
		return 0, fmt.Errorf("Orchestrator.CloseIdleConversations: failed to list conversations: %w", err)
	}

	cutoff := o.now().Add(-o.cfg.IdleCloseAfter)
	closed := 0
	for i := range open {
		if open[i].LastActivityAt.After(cutoff) {
			continue
		}
		if err := o.mgr.EndConversation(open[i].ID); err != nil {
			slog.Error("Orchestrator.CloseIdleConversations: failed to close conversation",
				"conversationID", open[i].ID, "error", err)
			continue
		}
		closed++
	}
	if closed > 0 {
		slog.Info("Orchestrator.CloseIdleConversations: closed idle conversations", "count", closed)
	}
	return closed, nil
}
