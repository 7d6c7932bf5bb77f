// Package testutil provides shared fakes and helpers for tests.
package testutil

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/zapatende/zapatende/internal/models"
)

// MockLLM is a canned-response genai.ClientInterface implementation. Zero
// values answer safely: empty reply, no handoff, no intent, no entities.
type MockLLM struct {
	mu sync.Mutex

	Reply      string
	ReplyErr   error
	NeedsHuman bool
	ClassErr   error
	Intent     string
	IntentErr  error
	Entities   []string
	EntErr     error
	Summary    string
	SumErr     error

	GenerateCalls []string
	ClassifyCalls []string
	SummaryCalls  int
}

func (m *MockLLM) GenerateReply(_ context.Context, _, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls = append(m.GenerateCalls, userPrompt)
	return m.Reply, m.ReplyErr
}

func (m *MockLLM) ClassifyNeedsHuman(_ context.Context, prompt string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClassifyCalls = append(m.ClassifyCalls, prompt)
	return m.NeedsHuman, m.ClassErr
}

func (m *MockLLM) AnalyzeIntent(_ context.Context, _ string) (string, error) {
	return m.Intent, m.IntentErr
}

func (m *MockLLM) ExtractEntities(_ context.Context, _ string) ([]string, error) {
	return m.Entities, m.EntErr
}

func (m *MockLLM) Summarize(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SummaryCalls++
	return m.Summary, m.SumErr
}

// SentMessage records one outbound send through MockMessenger.
type SentMessage struct {
	To         string
	Body       string
	ProviderID string
}

// MockMessenger is a recording messaging.Service implementation.
type MockMessenger struct {
	mu sync.Mutex

	SendErr     error
	MarkReadErr error

	Sent      []SentMessage
	MarkReads []string
	nextID    int
}

func (m *MockMessenger) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (m *MockMessenger) SendText(_ context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.nextID++
	id := "wamid.mock." + strconv.Itoa(m.nextID)
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body, ProviderID: id})
	return id, nil
}

func (m *MockMessenger) MarkRead(_ context.Context, providerMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarkReads = append(m.MarkReads, providerMessageID)
	return m.MarkReadErr
}

func (m *MockMessenger) Start(_ context.Context) error { return nil }

func (m *MockMessenger) Stop() {}

// LastSent returns the most recent outbound message, failing the test when
// nothing was sent.
func (m *MockMessenger) LastSent(t *testing.T) SentMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		t.Fatal("expected at least one sent message")
	}
	return m.Sent[len(m.Sent)-1]
}

// SentCount returns how many messages were sent.
func (m *MockMessenger) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// TextMessage builds an inbound text message for tests.
func TextMessage(providerID, from, text string) models.InboundMessage {
	return models.InboundMessage{
		ProviderMessageID: providerID,
		FromPhoneNumber:   from,
		TextContent:       text,
		Timestamp:         time.Now(),
	}
}
