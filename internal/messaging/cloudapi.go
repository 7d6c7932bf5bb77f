package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/zapatende/zapatende/internal/models"
)

const (
	// DefaultGraphAPIBaseURL is the Meta Graph API root for the Cloud API.
	DefaultGraphAPIBaseURL = "https://graph.facebook.com/v18.0"
	// DefaultHTTPTimeout bounds Cloud API calls.
	DefaultHTTPTimeout = 30 * time.Second
)

// CloudAPIOpts holds configuration for the Cloud API backend.
type CloudAPIOpts struct {
	Token         string // Meta access token
	PhoneNumberID string // business phone number id
	BaseURL       string // overridable for tests
	HTTPClient    *http.Client
}

// CloudAPIOption defines a configuration option for the Cloud API backend.
type CloudAPIOption func(*CloudAPIOpts)

// WithCloudAPIToken sets the Meta access token.
func WithCloudAPIToken(token string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.Token = token }
}

// WithCloudAPIPhoneNumberID sets the business phone number id.
func WithCloudAPIPhoneNumberID(id string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.PhoneNumberID = id }
}

// WithCloudAPIBaseURL overrides the Graph API base URL.
func WithCloudAPIBaseURL(url string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.BaseURL = url }
}

// WithCloudAPIHTTPClient injects a custom HTTP client.
func WithCloudAPIHTTPClient(c *http.Client) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.HTTPClient = c }
}

// CloudAPIService sends through the Meta WhatsApp Cloud API. Inbound traffic
// arrives over the webhook, parsed by ParseWebhookPayload.
type CloudAPIService struct {
	httpClient    *http.Client
	token         string
	phoneNumberID string
	baseURL       string
}

// NewCloudAPIService creates the Cloud API backend.
func NewCloudAPIService(opts ...CloudAPIOption) (*CloudAPIService, error) {
	var cfg CloudAPIOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("whatsapp access token must be provided")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone number id must be provided")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphAPIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &CloudAPIService{
		httpClient:    cfg.HTTPClient,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		baseURL:       cfg.BaseURL,
	}, nil
}

// ValidateAndCanonicalizeRecipient normalizes to the digits-only format the
// Cloud API expects.
func (s *CloudAPIService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

type cloudAPITextPayload struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             cloudAPITextBody `json:"text"`
}

type cloudAPITextBody struct {
	Body string `json:"body"`
}

type cloudAPISendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a text message and returns the wamid the platform assigned.
func (s *CloudAPIService) SendText(ctx context.Context, to, body string) (string, error) {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", fmt.Errorf("CloudAPIService.SendText: %w", err)
	}
	if body == "" {
		return "", models.ErrEmptyMessageContent
	}

	payload := cloudAPITextPayload{
		MessagingProduct: "whatsapp",
		To:               canonical,
		Type:             "text",
		Text:             cloudAPITextBody{Body: body},
	}
	respBody, err := s.post(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("CloudAPIService.SendText: %w", err)
	}

	var parsed cloudAPISendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("CloudAPIService.SendText: failed to decode response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", fmt.Errorf("CloudAPIService.SendText: response carried no message id")
	}
	slog.Debug("CloudAPIService.SendText: sent", "to", canonical, "messageID", parsed.Messages[0].ID)
	return parsed.Messages[0].ID, nil
}

type cloudAPIMarkReadPayload struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

// MarkRead marks an inbound message as read on the platform.
func (s *CloudAPIService) MarkRead(ctx context.Context, providerMessageID string) error {
	payload := cloudAPIMarkReadPayload{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        providerMessageID,
	}
	if _, err := s.post(ctx, payload); err != nil {
		return fmt.Errorf("CloudAPIService.MarkRead: %w", err)
	}
	return nil
}

// post sends a JSON payload to the phone number's messages endpoint.
func (s *CloudAPIService) post(ctx context.Context, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("CloudAPIService request rejected", "status", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("cloud api returned status %d", resp.StatusCode)
	}
	return respBody, nil
}

// Start is a no-op: the Cloud API is webhook driven.
func (s *CloudAPIService) Start(_ context.Context) error { return nil }

// Stop is a no-op.
func (s *CloudAPIService) Stop() {}

// Webhook payload structures, mirroring the Cloud API notification format.
type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	Contacts []webhookContact `json:"contacts"`
	Messages []webhookMessage `json:"messages"`
	Statuses []webhookStatus  `json:"statuses"`
}

type webhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

type webhookStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ParseWebhookPayload extracts normalized inbound messages and status updates
// from a Cloud API webhook body. Non-text messages are dropped; unrecognized
// statuses are skipped. A payload that is not a WhatsApp notification yields
// empty slices, not an error, so the webhook can always acknowledge.
func ParseWebhookPayload(data []byte) ([]models.InboundMessage, []models.StatusUpdate, error) {
	var payload webhookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, nil, fmt.Errorf("ParseWebhookPayload: invalid JSON: %w", err)
	}
	if payload.Object != "whatsapp_business_account" {
		slog.Debug("ParseWebhookPayload: ignoring non-whatsapp notification", "object", payload.Object)
		return nil, nil, nil
	}

	var inbound []models.InboundMessage
	var statuses []models.StatusUpdate
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.Text.Body == "" {
					slog.Debug("ParseWebhookPayload: dropping non-text message", "type", msg.Type, "id", msg.ID)
					continue
				}
				inbound = append(inbound, models.InboundMessage{
					ProviderMessageID: msg.ID,
					FromPhoneNumber:   "+" + msg.From,
					ProfileName:       names[msg.From],
					TextContent:       msg.Text.Body,
					Timestamp:         parseUnixTimestamp(msg.Timestamp),
				})
			}

			for _, st := range change.Value.Statuses {
				status, ok := mapCloudAPIStatus(st.Status)
				if !ok {
					slog.Debug("ParseWebhookPayload: skipping status", "status", st.Status, "id", st.ID)
					continue
				}
				statuses = append(statuses, models.StatusUpdate{
					ProviderMessageID: st.ID,
					Status:            status,
					Timestamp:         parseUnixTimestamp(st.Timestamp),
				})
			}
		}
	}
	return inbound, statuses, nil
}

// mapCloudAPIStatus translates Cloud API status strings to message statuses.
func mapCloudAPIStatus(status string) (models.MessageStatus, bool) {
	switch status {
	case "sent":
		return models.MessageStatusSent, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "read":
		return models.MessageStatusRead, true
	case "failed":
		return models.MessageStatusFailed, true
	default:
		return "", false
	}
}

// parseUnixTimestamp converts the Cloud API's string unix timestamps. Bad
// values fall back to now.
func parseUnixTimestamp(value string) time.Time {
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
