// Package whatsapp wraps the Whatsmeow client for direct WhatsApp connectivity.
//
// It handles session storage, the QR login flow, and message sending. Event
// dispatch to the rest of the system lives in the messaging package.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/zapatende/zapatende/internal/store"
)

const (
	// DefaultSQLitePath is the default whatsmeow session database path.
	DefaultSQLitePath = "/var/lib/zapatende/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users.
	JIDSuffix = "s.whatsapp.net"
)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow session database connection string
	QRPath      string // path to write the login QR code
	NumericCode bool   // use a numeric login code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow session database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode uses a numeric login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// Client wraps the Whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient initializes the session store, logs in (showing a QR code on
// first run), and connects to WhatsApp.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("whatsapp.NewClient: options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("whatsapp.NewClient: no session DSN provided, using default SQLite path", "path", dbDSN)
	}

	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		// whatsmeow strongly recommends foreign keys on SQLite.
		if !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("whatsapp.NewClient: SQLite session DB without foreign keys enabled",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("whatsapp.NewClient: failed to initialize session store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("whatsapp.NewClient: failed to get device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("whatsapp.NewClient: login required, starting QR flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			slog.Error("whatsapp.NewClient: failed to connect during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}

		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("whatsapp.NewClient: failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("whatsapp.NewClient: login event", "event", evt.Event)
			}
		}
	} else {
		slog.Debug("whatsapp.NewClient: already logged in, connecting")
		if err := waClient.Connect(); err != nil {
			slog.Error("whatsapp.NewClient: failed to connect", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("whatsapp.NewClient: connected")
	return &Client{waClient: waClient}, nil
}

// SendMessage sends a text message and returns the id whatsmeow assigned to it.
func (c *Client) SendMessage(ctx context.Context, to, body string) (string, error) {
	if c.waClient == nil {
		return "", fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}

	jid := types.NewJID(to, JIDSuffix)
	msg := &waE2E.Message{Conversation: &body}

	resp, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("whatsapp.SendMessage: send failed", "error", err, "to", to)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("whatsapp.SendMessage: sent", "to", to, "messageID", resp.ID)
	return string(resp.ID), nil
}

// MarkRead marks a received message as read in its chat.
func (c *Client) MarkRead(messageID string, chat, sender types.JID, at time.Time) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if at.IsZero() {
		at = time.Now()
	}
	if err := c.waClient.MarkRead([]types.MessageID{types.MessageID(messageID)}, at, chat, sender); err != nil {
		return fmt.Errorf("failed to mark message %s as read: %w", messageID, err)
	}
	return nil
}

// GetClient returns the underlying whatsmeow client for event registration.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// Disconnect closes the WhatsApp connection.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}
