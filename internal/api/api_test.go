package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/zapatende/zapatende/internal/bot"
	"github.com/zapatende/zapatende/internal/conversation"
	"github.com/zapatende/zapatende/internal/models"
	"github.com/zapatende/zapatende/internal/prompt"
	"github.com/zapatende/zapatende/internal/store"
	"github.com/zapatende/zapatende/internal/testutil"
)

type apiFixture struct {
	server    *Server
	st        *store.InMemoryStore
	mgr       *conversation.Manager
	llm       *testutil.MockLLM
	messenger *testutil.MockMessenger
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	mgr := conversation.NewManager(st, conversation.Config{})
	llm := &testutil.MockLLM{Reply: "Olá! Como posso ajudar?"}
	messenger := &testutil.MockMessenger{}
	orch := bot.NewOrchestrator(mgr, llm, prompt.NewBuilder(prompt.Config{}), messenger, st, nil, bot.Config{})
	server := NewServer(orch, mgr, st, WithVerifyToken("segredo"))
	return &apiFixture{server: server, st: st, mgr: mgr, llm: llm, messenger: messenger}
}

func (f *apiFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestVerifyWebhookSuccess(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=segredo&hub.challenge=12345", nil)
	rec := f.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Errorf("expected challenge echoed, got %q", rec.Body.String())
	}
}

func TestVerifyWebhookWrongToken(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=errado&hub.challenge=12345", nil)
	rec := f.do(t, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

const webhookPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"value": {
    "contacts": [{"profile": {"name": "Maria"}, "wa_id": "5511999999999"}],
    "messages": [{"from": "5511999999999", "id": "wamid.in.1", "timestamp": "1714000000",
                  "type": "text", "text": {"body": "Olá, gostaria de informações sobre coleta de lixo"}}]
  }}]}]
}`

func TestReceiveWebhookProcessesMessage(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(webhookPayload))
	rec := f.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	customer, err := f.st.GetCustomerByPhone("+5511999999999")
	if err != nil || customer == nil {
		t.Fatalf("expected customer created, got %v, %v", customer, err)
	}
	if customer.Name != "Maria" {
		t.Errorf("expected profile name stored, got %q", customer.Name)
	}
	if f.messenger.SentCount() != 1 {
		t.Errorf("expected one reply sent, got %d", f.messenger.SentCount())
	}
}

func TestReceiveWebhookAlwaysAcks(t *testing.T) {
	f := newAPIFixture(t)

	// Malformed body is still acknowledged.
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{"))
	if rec := f.do(t, req); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for malformed body, got %d", rec.Code)
	}

	// Unknown status update is still acknowledged.
	statusPayload := `{"object": "whatsapp_business_account", "entry": [{"changes": [{"value":
	  {"statuses": [{"id": "wamid.unknown", "status": "delivered", "timestamp": "1714000000"}]}}]}]}`
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(statusPayload))
	if rec := f.do(t, req); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for unknown status target, got %d", rec.Code)
	}
}

func TestReceiveWebhookReadStatusAppliesReceipt(t *testing.T) {
	f := newAPIFixture(t)

	// Inbound message produces a bot reply with a known provider id.
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(webhookPayload))
	if rec := f.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	providerID := f.messenger.LastSent(t).ProviderID

	readPayload := `{"object": "whatsapp_business_account", "entry": [{"changes": [{"value":
	  {"statuses": [{"id": "` + providerID + `", "status": "read", "timestamp": "1714000100"}]}}]}]}`
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(readPayload))
	if rec := f.do(t, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	msg, err := f.st.GetMessageByProviderID(providerID)
	if err != nil || msg == nil {
		t.Fatalf("expected outbound message stored, got %v, %v", msg, err)
	}
	if msg.Status != models.MessageStatusRead || !msg.Read {
		t.Errorf("expected message READ, got status=%s read=%v", msg.Status, msg.Read)
	}

	// A read event for a provider id never seen is a soft miss, still 200.
	missPayload := `{"object": "whatsapp_business_account", "entry": [{"changes": [{"value":
	  {"statuses": [{"id": "wamid.never-seen", "status": "read", "timestamp": "1714000200"}]}}]}]}`
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(missPayload))
	if rec := f.do(t, req); rec.Code != http.StatusOK {
		t.Errorf("expected 200 for unknown read receipt, got %d", rec.Code)
	}
}

func TestTwilioWebhook(t *testing.T) {
	f := newAPIFixture(t)
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "whatsapp:+5511999999999")
	form.Set("Body", "Olá")

	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.messenger.SentCount() != 1 {
		t.Errorf("expected one reply sent, got %d", f.messenger.SentCount())
	}
}

func TestConversationsList(t *testing.T) {
	f := newAPIFixture(t)
	conv, err := f.mgr.GetOrCreateActiveConversation("cust-1")
	if err != nil {
		t.Fatalf("failed to open conversation: %v", err)
	}

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/conversations?customer_id=cust-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "ok" {
		t.Errorf("unexpected status %q", resp.Status)
	}
	data, _ := json.Marshal(resp.Result)
	if !strings.Contains(string(data), conv.ID) {
		t.Errorf("expected conversation %s listed, got %s", conv.ID, data)
	}
}

func TestTransferEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	customer, err := f.mgr.GetOrCreateCustomer("+5511999999999", "")
	if err != nil {
		t.Fatalf("failed to create customer: %v", err)
	}
	conv, err := f.mgr.GetOrCreateActiveConversation(customer.ID)
	if err != nil {
		t.Fatalf("failed to open conversation: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"conversation_id": conv.ID, "reason": "pedido de atendente"})
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/conversations/transfer", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, _ := f.st.GetConversation(conv.ID)
	if stored.Status != models.ConversationStatusWaitingForAgent {
		t.Errorf("expected WAITING_FOR_AGENT, got %s", stored.Status)
	}

	// The customer is told about the transfer.
	if f.messenger.SentCount() != 1 {
		t.Fatalf("expected one transfer notice sent, got %d", f.messenger.SentCount())
	}
	if !strings.Contains(f.messenger.LastSent(t).Body, "pedido de atendente") {
		t.Errorf("expected reason embedded in the notice, got %q", f.messenger.LastSent(t).Body)
	}
}

func TestTransferEndpointNotFound(t *testing.T) {
	f := newAPIFixture(t)
	body, _ := json.Marshal(map[string]string{"conversation_id": "missing"})
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/conversations/transfer", bytes.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestTransferEndpointMissingID(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/conversations/transfer", strings.NewReader("{}")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCloseEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	conv, err := f.mgr.GetOrCreateActiveConversation("cust-1")
	if err != nil {
		t.Fatalf("failed to open conversation: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"conversation_id": conv.ID})
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/conversations/close", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	stored, _ := f.st.GetConversation(conv.ID)
	if !stored.IsClosed() {
		t.Errorf("expected conversation closed, got %s", stored.Status)
	}
}

func TestCustomersLookup(t *testing.T) {
	f := newAPIFixture(t)
	if _, err := f.mgr.GetOrCreateCustomer("+5511999999999", "Maria"); err != nil {
		t.Fatalf("failed to create customer: %v", err)
	}

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/customers?phone=%2B5511999999999", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Maria") {
		t.Errorf("expected customer data, got %s", rec.Body.String())
	}

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/customers?phone=%2B5511000000000", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown customer, got %d", rec.Code)
	}
}

func TestPreferencesMerge(t *testing.T) {
	f := newAPIFixture(t)
	if _, err := f.mgr.GetOrCreateCustomer("+5511999999999", "Maria"); err != nil {
		t.Fatalf("failed to create customer: %v", err)
	}

	body, _ := json.Marshal(map[string]any{
		"phone_number": "+5511999999999",
		"preferences":  map[string]string{"idioma": "pt-BR"},
	})
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/customers/preferences", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	customer, _ := f.st.GetCustomerByPhone("+5511999999999")
	if customer.Preferences["idioma"] != "pt-BR" {
		t.Errorf("expected preference stored, got %v", customer.Preferences)
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/conversations", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
