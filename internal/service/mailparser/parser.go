// Package mailparser converts raw RFC 5322 messages into structured records.
package mailparser

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"crm-mail-ingest-go/internal/model"
)

// DefaultSubject is used when a message carries no Subject header
const DefaultSubject = "(no subject)"

// Address is a display name plus mailbox address
type Address struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ParsedMessage is the structured form of one transport message
type ParsedMessage struct {
	MessageID  *string   `json:"message_id"`
	Subject    string    `json:"subject"`
	FromName   string    `json:"from_name"`
	FromEmail  string    `json:"from_email"`
	To         []Address `json:"to"`
	Cc         []Address `json:"cc"`
	HTMLBody   string    `json:"html_body"`
	TextBody   string    `json:"text_body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Body returns the best text representation for content heuristics
func (m *ParsedMessage) Body() string {
	if strings.TrimSpace(m.TextBody) != "" {
		return m.TextBody
	}
	return m.HTMLBody
}

// MessageIDString returns the transport identifier or an empty string
func (m *ParsedMessage) MessageIDString() string {
	if m.MessageID == nil {
		return ""
	}
	return *m.MessageID
}

// Parser parses raw messages. Now supplies the fallback timestamp.
type Parser struct {
	Now func() time.Time
}

func New() *Parser {
	return &Parser{Now: time.Now}
}

// Parse reads a raw message. It fails only when the header block is unreadable.
// Header values are clipped to their column widths so an oversized header
// never makes the record unstorable.
func (p *Parser) Parse(raw []byte) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	parsed := &ParsedMessage{}
	p.parseHeader(&mr.Header, parsed)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				logrus.Debugf("Unknown charset in message part: %v", err)
				continue
			}
			// A broken trailing part should not drop the bodies already read
			logrus.Warnf("Failed to read message part: %v", err)
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			logrus.Warnf("Failed to read part body: %v", err)
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && parsed.TextBody == "":
			parsed.TextBody = string(content)
		case strings.HasPrefix(contentType, "text/html") && parsed.HTMLBody == "":
			parsed.HTMLBody = string(content)
		}
	}

	if parsed.HTMLBody == "" && parsed.TextBody != "" {
		parsed.HTMLBody = TextToHTML(parsed.TextBody)
	}

	return parsed, nil
}

func (p *Parser) parseHeader(h *mail.Header, parsed *ParsedMessage) {
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = DefaultSubject
	}
	parsed.Subject = model.Truncate(subject, model.MaxSubjectLength)

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		parsed.FromName = model.Truncate(from[0].Name, model.MaxNameLength)
		parsed.FromEmail = model.Truncate(strings.ToLower(from[0].Address), model.MaxAddressLength)
	}
	parsed.To = addressList(h, "To")
	parsed.Cc = addressList(h, "Cc")

	if date, err := h.Date(); err == nil && !date.IsZero() {
		parsed.ReceivedAt = date
	} else {
		parsed.ReceivedAt = p.now()
	}

	if id, err := h.MessageID(); err == nil && id != "" {
		id = model.Truncate(id, model.MaxMessageIDLength)
		parsed.MessageID = &id
	}
}

func (p *Parser) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func addressList(h *mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		out = append(out, Address{
			Name:    model.Truncate(a.Name, model.MaxNameLength),
			Address: model.Truncate(strings.ToLower(a.Address), model.MaxAddressLength),
		})
	}
	return out
}

// TextToHTML renders a plain-text body as minimal HTML
func TextToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	escaped := html.EscapeString(strings.TrimSpace(text))
	return "<div>" + strings.ReplaceAll(escaped, "\n", "<br>\n") + "</div>"
}
