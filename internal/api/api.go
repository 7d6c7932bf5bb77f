// Package api exposes the HTTP surface of ZapAtende.
//
// It serves the WhatsApp webhook (verification handshake and event delivery)
// plus a small admin API for conversations and customers. Webhook delivery is
// always acknowledged with 200: processing failures are logged, never
// returned, so the platform does not retry into the same failure.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapatende/zapatende/internal/bot"
	"github.com/zapatende/zapatende/internal/conversation"
	"github.com/zapatende/zapatende/internal/messaging"
	"github.com/zapatende/zapatende/internal/models"
	"github.com/zapatende/zapatende/internal/store"
)

const (
	// DefaultAddr is the default listen address for the API server.
	DefaultAddr = ":8080"
	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	VerifyToken string // webhook verification token for the Cloud API handshake
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// Server wires HTTP routes to the orchestrator and the conversation layer.
type Server struct {
	addr        string
	verifyToken string
	orch        *bot.Orchestrator
	mgr         *conversation.Manager
	st          store.Store
	httpServer  *http.Server
}

// NewServer creates the API server.
func NewServer(orch *bot.Orchestrator, mgr *conversation.Manager, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		addr:        cfg.Addr,
		verifyToken: cfg.VerifyToken,
		orch:        orch,
		mgr:         mgr,
		st:          st,
	}
}

// Routes builds the HTTP mux for the server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/twilio/webhook", s.twilioWebhookHandler)
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/conversations/transfer", s.transferHandler)
	mux.HandleFunc("/conversations/close", s.closeHandler)
	mux.HandleFunc("/customers", s.customersHandler)
	mux.HandleFunc("/customers/preferences", s.preferencesHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Routes()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// webhookHandler serves the Cloud API webhook: GET is the verification
// handshake, POST is event delivery.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

// verifyWebhook answers the hub.challenge handshake when the verify token
// matches.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && s.verifyToken != "" && token == s.verifyToken {
		slog.Info("Server.verifyWebhook: webhook verified")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(challenge)); err != nil {
			slog.Error("Server.verifyWebhook: failed to write challenge", "error", err)
		}
		return
	}
	slog.Warn("Server.verifyWebhook: verification rejected", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// receiveWebhook parses and dispatches Cloud API events. The response is
// always 200: failures are logged and the event is considered consumed.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("Server.receiveWebhook: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}

	inbound, statuses, err := messaging.ParseWebhookPayload(body)
	if err != nil {
		slog.Warn("Server.receiveWebhook: unparseable payload", "error", err)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}

	for _, msg := range inbound {
		if err := s.orch.ProcessInboundMessage(r.Context(), msg); err != nil {
			slog.Error("Server.receiveWebhook: message processing failed",
				"providerMessageID", msg.ProviderMessageID, "error", err)
		}
	}
	for _, update := range statuses {
		s.applyStatusUpdate(update)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// applyStatusUpdate routes a provider status event. Read events go through the
// read-receipt path, which tolerates unknown provider ids since receipts race
// message creation; other statuses require the message to exist.
func (s *Server) applyStatusUpdate(update models.StatusUpdate) {
	if update.Status == models.MessageStatusRead {
		if _, err := s.orch.ProcessReadReceipt(update.ProviderMessageID, update.Timestamp); err != nil {
			slog.Warn("Server.applyStatusUpdate: read receipt failed",
				"providerMessageID", update.ProviderMessageID, "error", err)
		}
		return
	}
	if err := s.orch.ProcessMessageStatusUpdate(update); err != nil {
		slog.Warn("Server.applyStatusUpdate: status update failed",
			"providerMessageID", update.ProviderMessageID, "error", err)
	}
}

// twilioWebhookHandler receives Twilio's form-encoded inbound and status
// callbacks when the Twilio backend is in use.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid form", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if msg, err := messaging.ParseTwilioInbound(r.PostForm); err != nil {
		slog.Warn("Server.twilioWebhookHandler: unparseable message", "error", err)
	} else if msg != nil {
		if err := s.orch.ProcessInboundMessage(r.Context(), *msg); err != nil {
			slog.Error("Server.twilioWebhookHandler: message processing failed",
				"providerMessageID", msg.ProviderMessageID, "error", err)
		}
	}

	if update, err := messaging.ParseTwilioStatus(r.PostForm); err == nil && update != nil {
		s.applyStatusUpdate(*update)
	}
	w.WriteHeader(http.StatusOK)
}

// conversationsHandler lists conversations, filtered by customer_id or, by
// default, every open conversation.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	customerID := r.URL.Query().Get("customer_id")
	var (
		conversations []models.Conversation
		err           error
	)
	if customerID != "" {
		conversations, err = s.st.ListConversationsByCustomer(customerID)
	} else {
		conversations, err = s.st.ListOpenConversations()
	}
	if err != nil {
		slog.Error("Server.conversationsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conversations))
}

type transferRequest struct {
	ConversationID string `json:"conversation_id"`
	Reason         string `json:"reason"`
}

// transferHandler hands a conversation off to a human agent and notifies the
// customer.
func (s *Server) transferHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("conversation_id is required"))
		return
	}

	if err := s.orch.TransferToHuman(r.Context(), req.ConversationID, req.Reason); err != nil {
		switch {
		case errors.Is(err, models.ErrConversationNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		case errors.Is(err, models.ErrCustomerNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Customer not found"))
		case errors.Is(err, models.ErrConversationClosed):
			writeJSONResponse(w, http.StatusConflict, models.Error("Conversation is closed"))
		default:
			slog.Error("Server.transferHandler: transfer failed", "conversationID", req.ConversationID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to transfer conversation"))
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation transferred", nil))
}

type closeRequest struct {
	ConversationID string `json:"conversation_id"`
}

// closeHandler closes a conversation.
func (s *Server) closeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("conversation_id is required"))
		return
	}

	if err := s.mgr.EndConversation(req.ConversationID); err != nil {
		if errors.Is(err, models.ErrConversationNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		slog.Error("Server.closeHandler: close failed", "conversationID", req.ConversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to close conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation closed", nil))
}

// customersHandler looks a customer up by phone number.
func (s *Server) customersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("phone is required"))
		return
	}

	customer, err := s.st.GetCustomerByPhone(phone)
	if err != nil {
		slog.Error("Server.customersHandler: lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up customer"))
		return
	}
	if customer == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Customer not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(customer))
}

type preferencesRequest struct {
	PhoneNumber string            `json:"phone_number"`
	Preferences map[string]string `json:"preferences"`
}

// preferencesHandler merges preference entries into a customer record.
func (s *Server) preferencesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhoneNumber == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("phone_number is required"))
		return
	}

	customer, err := s.st.GetCustomerByPhone(req.PhoneNumber)
	if err != nil {
		slog.Error("Server.preferencesHandler: lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up customer"))
		return
	}
	if customer == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Customer not found"))
		return
	}

	if customer.Preferences == nil {
		customer.Preferences = make(map[string]string, len(req.Preferences))
	}
	for k, v := range req.Preferences {
		customer.Preferences[k] = v
	}
	customer.UpdatedAt = time.Now()
	if err := s.st.SaveCustomer(*customer); err != nil {
		slog.Error("Server.preferencesHandler: save failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save preferences"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(customer))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}
