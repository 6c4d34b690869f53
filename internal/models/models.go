package models

import (
	"context"
	"iter"
	"time"
)

// ConnectionState is the lifecycle state of a mailbox connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Account represents one monitored mailbox. Address is its unique id.
// Insecure allows a plaintext login when a non-TLS server lacks STARTTLS.
type Account struct {
	Address      string
	Host         string
	Port         int
	Username     string
	Password     string
	TLS          bool
	Insecure     bool
	Mailbox      string
	Active       bool
	Destinations []DestinationOverride
}

// Login returns the username used to authenticate, defaulting to the address.
func (a Account) Login() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Address
}

// DestinationOverride is an account-specific notification target. Empty
// fields inherit the global default.
type DestinationOverride struct {
	Name   string
	ChatID string
	Token  string
}

// Destination is a resolved (routing target, credential) pair.
type Destination struct {
	Name       string
	Target     string
	Credential string
}

// Key identifies the destination for rate limiting and de-duplication.
func (d Destination) Key() string {
	return d.Target + "|" + d.Credential
}

// Message represents a fetched mailbox entry
type Message struct {
	AccountID string
	ID        string
	UID       uint32
	From      string
	Subject   string
	Date      time.Time
	Body      string
}

// ProcessedRecord marks a message identifier as handed to the dispatcher.
type ProcessedRecord struct {
	AccountID   string    `db:"account_id"`
	MessageID   string    `db:"message_id"`
	ProcessedAt time.Time `db:"processed_at"`
}

// DeliveryResult is the outcome of delivering one notification to one destination.
type DeliveryResult struct {
	Destination Destination
	Success     bool
	Attempts    int
	Err         error
}

// MessageSource abstracts a single mailbox connection. A source is owned by
// one worker at a time and is not safe for concurrent use, except State.
type MessageSource interface {
	AccountID() string
	State() ConnectionState
	Connect(ctx context.Context) error
	FetchUnseen(ctx context.Context) (iter.Seq[Message], error)
	// Err returns the error that ended the last FetchUnseen sequence early.
	Err() error
	MarkProcessed(ctx context.Context, msg Message) error
	Disconnect()
	HealthCheck(ctx context.Context) error
}
