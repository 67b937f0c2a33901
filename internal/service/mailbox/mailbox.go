// Package mailbox provides the poll-capable mailbox session used by the
// ingestion poller.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Fetch when the UID no longer exists
var ErrNotFound = errors.New("message not found")

const (
	AuthPassword = "password"
	AuthOAuth2   = "oauth2"

	ProviderGmail = "gmail"
)

// Config describes one tenant mailbox
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// TLS dials with implicit TLS; otherwise STARTTLS is used when StartTLS is set
	TLS      bool          `mapstructure:"tls"`
	StartTLS bool          `mapstructure:"starttls"`
	Folder   string        `mapstructure:"folder"`
	Auth     string        `mapstructure:"auth"`
	Timeout  time.Duration `mapstructure:"timeout"`
	OAuth    OAuthConfig   `mapstructure:"oauth"`
}

// OAuthConfig holds refresh-token credentials for OAUTHBEARER login
type OAuthConfig struct {
	Provider     string `mapstructure:"provider"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	TokenURL     string `mapstructure:"token_url"`
}

// Address returns host:port
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) folder() string {
	if c.Folder == "" {
		return "INBOX"
	}
	return c.Folder
}

// Validate checks the fields needed to open a session
func (c Config) Validate() error {
	if c.Host == "" || c.Port <= 0 {
		return fmt.Errorf("mailbox host and port are required")
	}
	if c.Username == "" {
		return fmt.Errorf("mailbox username is required")
	}
	switch c.Auth {
	case "", AuthPassword:
		if c.Password == "" {
			return fmt.Errorf("mailbox password is required for password auth")
		}
	case AuthOAuth2:
		if c.OAuth.ClientID == "" || c.OAuth.RefreshToken == "" {
			return fmt.Errorf("oauth client id and refresh token are required for oauth2 auth")
		}
		if c.OAuth.Provider != ProviderGmail && c.OAuth.TokenURL == "" {
			return fmt.Errorf("oauth token url is required unless provider is gmail")
		}
	default:
		return fmt.Errorf("unsupported mailbox auth %q", c.Auth)
	}
	return nil
}

// Message is one fetched mailbox message
type Message struct {
	UID          uint32
	InternalDate time.Time
	Raw          []byte
}

// Session is an exclusive, selected mailbox connection
type Session interface {
	SearchUnseen(ctx context.Context) ([]uint32, error)
	SearchSince(ctx context.Context, since time.Time) ([]uint32, error)
	Fetch(ctx context.Context, uid uint32) (*Message, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

// Dialer opens sessions
type Dialer interface {
	Open(ctx context.Context, cfg Config) (Session, error)
}

// ConnectionError is a transport failure. It aborts the whole poll cycle.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mailbox %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is, or wraps, a ConnectionError
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func connErr(op string, err error) error {
	return &ConnectionError{Op: op, Err: err}
}
