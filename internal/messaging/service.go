// Package messaging abstracts the WhatsApp transports used to reach customers.
//
// Three backends implement the Service interface: the Meta Cloud API
// (webhook-driven, the default), whatsmeow (direct WhatsApp Web connection),
// and Twilio's WhatsApp gateway.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRecipient indicates a recipient that is not a usable phone number.
var ErrInvalidRecipient = errors.New("invalid recipient phone number")

// phoneDigitsRe matches an international phone number without the leading plus.
var phoneDigitsRe = regexp.MustCompile(`^[1-9][0-9]{7,14}$`)

// Service is the transport surface the orchestrator sends through.
type Service interface {
	// ValidateAndCanonicalizeRecipient normalizes a phone number to the
	// backend's wire format, rejecting unusable input.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
	// SendText delivers a text message and returns the provider-assigned
	// message id.
	SendText(ctx context.Context, to, body string) (string, error)
	// MarkRead marks an inbound message as read on the provider. Failures are
	// non-fatal to message processing.
	MarkRead(ctx context.Context, providerMessageID string) error
	// Start brings up the transport (connections, logins). Webhook-driven
	// backends may have nothing to do.
	Start(ctx context.Context) error
	// Stop tears the transport down.
	Stop()
}

// CanonicalizePhone strips formatting from a phone number and validates the
// remaining digits. The result carries no leading plus; backends add their own
// prefixes.
func CanonicalizePhone(recipient string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(recipient))
	cleaned = strings.TrimPrefix(cleaned, "+")

	if !phoneDigitsRe.MatchString(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return cleaned, nil
}
