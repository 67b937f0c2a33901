package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultTimeout = 30 * time.Second

// GmailScope grants IMAP access to a Gmail mailbox
const GmailScope = "https://mail.google.com/"

// IMAPDialer opens IMAP sessions with go-imap
type IMAPDialer struct {
	// TLSConfig overrides the default config; ServerName is filled from the host
	TLSConfig *tls.Config
}

func NewIMAPDialer() *IMAPDialer {
	return &IMAPDialer{}
}

// Open connects, authenticates and selects the configured folder
func (d *IMAPDialer) Open(ctx context.Context, cfg Config) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, connErr("connect", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	tlsConfig := &tls.Config{ServerName: cfg.Host}
	if d.TLSConfig != nil {
		tlsConfig = d.TLSConfig.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = cfg.Host
		}
	}
	dialer := &net.Dialer{Timeout: timeout}

	var (
		c   *client.Client
		err error
	)
	if cfg.TLS {
		c, err = client.DialWithDialerTLS(dialer, cfg.Address(), tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, cfg.Address())
	}
	if err != nil {
		return nil, connErr("connect", err)
	}
	c.Timeout = timeout

	if !cfg.TLS && cfg.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Logout()
			return nil, connErr("starttls", err)
		}
	}

	if err := authenticate(ctx, c, cfg); err != nil {
		c.Logout()
		return nil, err
	}

	if _, err := c.Select(cfg.folder(), false); err != nil {
		c.Logout()
		return nil, connErr("select", fmt.Errorf("%s: %w", cfg.folder(), err))
	}

	logrus.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"folder": cfg.folder(),
	}).Debug("Mailbox session opened")
	return &imapSession{client: c}, nil
}

func authenticate(ctx context.Context, c *client.Client, cfg Config) error {
	if cfg.Auth != AuthOAuth2 {
		if err := c.Login(cfg.Username, cfg.Password); err != nil {
			return connErr("login", err)
		}
		return nil
	}

	token, err := oauthTokenSource(ctx, cfg.OAuth).Token()
	if err != nil {
		return connErr("oauth token", err)
	}
	auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: cfg.Username,
		Token:    token.AccessToken,
		Host:     cfg.Host,
		Port:     cfg.Port,
	})
	if err := c.Authenticate(auth); err != nil {
		return connErr("authenticate", err)
	}
	return nil
}

func oauthTokenSource(ctx context.Context, cfg OAuthConfig) oauth2.TokenSource {
	endpoint := oauth2.Endpoint{TokenURL: cfg.TokenURL}
	if cfg.Provider == ProviderGmail {
		endpoint = google.Endpoint
	}
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       []string{GmailScope},
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
}

type imapSession struct {
	client *client.Client
}

func (s *imapSession) SearchUnseen(ctx context.Context) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, connErr("search", err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, connErr("search", err)
	}
	return uids, nil
}

// SearchSince returns messages whose INTERNALDATE is at or after since.
// IMAP SINCE only has day granularity, so the result is narrowed here.
func (s *imapSession) SearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, connErr("search", err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, connErr("search", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate}, messages)
	}()

	var recent []uint32
	for msg := range messages {
		if !msg.InternalDate.Before(since) {
			recent = append(recent, msg.Uid)
		}
	}
	if err := <-done; err != nil {
		return nil, connErr("fetch dates", err)
	}
	return recent, nil
}

// Fetch reads the full message with BODY.PEEK[] so the \Seen flag is untouched
func (s *imapSession) Fetch(ctx context.Context, uid uint32) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, connErr("fetch", err)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid, imap.FetchInternalDate}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var (
		found   *Message
		readErr error
	)
	for msg := range messages {
		if msg.Uid != uid || found != nil {
			continue
		}
		for _, literal := range msg.Body {
			if literal == nil {
				continue
			}
			raw, err := io.ReadAll(literal)
			if err != nil {
				readErr = err
				break
			}
			found = &Message{UID: msg.Uid, InternalDate: msg.InternalDate, Raw: raw}
			break
		}
	}
	if err := <-done; err != nil {
		return nil, connErr("fetch", err)
	}
	if readErr != nil {
		return nil, connErr("fetch", readErr)
	}
	if found == nil {
		return nil, fmt.Errorf("uid %d: %w", uid, ErrNotFound)
	}
	return found, nil
}

func (s *imapSession) MarkSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return connErr("store", err)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return connErr("store", err)
	}
	return nil
}

func (s *imapSession) Close() error {
	if err := s.client.Logout(); err != nil && err != client.ErrAlreadyLoggedOut {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}
