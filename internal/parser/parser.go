package parser

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
	"go.uber.org/zap"

	"github.com/mikey/phish-detect/internal/core"
	"github.com/mikey/phish-detect/internal/utils"
)

// Parser turns raw RFC 2822 messages into core.ParsedEmail values.
// It implements core.MessageParser.
type Parser struct {
	logger *zap.Logger
	text   *utils.TextProcessor
}

// New creates a new message parser.
func New(logger *zap.Logger, text *utils.TextProcessor) *Parser {
	return &Parser{
		logger: logger,
		text:   text,
	}
}

// Parse parses one raw message. A structurally malformed message or an
// undecodable transfer encoding yields a *core.ParseError. Header
// decoding is best-effort: an encoded word in an unknown charset
// degrades to its raw text instead of failing the parse.
func (p *Parser) Parse(raw []byte) (*core.ParsedEmail, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &core.ParseError{Reason: "malformed message", Err: err}
	}

	email := &core.ParsedEmail{
		Headers: p.collectHeaders(entity.Header),
		Subject: p.headerText(entity.Header, "Subject"),
		From:    p.headerText(entity.Header, "From"),
		To:      p.headerText(entity.Header, "To"),
		Date:    p.headerDate(entity.Header),
	}

	body, err := p.extractBody(entity)
	if err != nil {
		return nil, err
	}
	email.Body = p.text.SanitizeUTF8(body)

	return email, nil
}

// collectHeaders unfolds every header field, preserving repeated names
// as separate entries in original message order.
func (p *Parser) collectHeaders(h message.Header) []core.HeaderField {
	var fields []core.HeaderField
	for f := h.Fields(); f.Next(); {
		value, err := f.Text()
		if err != nil {
			// Undecodable encoded word; keep the raw value.
			value = f.Value()
		}
		fields = append(fields, core.HeaderField{Name: f.Key(), Value: value})
	}
	// Fields iterates newest-first; restore message order.
	for i, j := 0, len(fields)-1; i < j; i, j = i+1, j-1 {
		fields[i], fields[j] = fields[j], fields[i]
	}
	return fields
}

func (p *Parser) headerText(h message.Header, key string) string {
	value, err := h.Text(key)
	if err != nil {
		p.logger.Debug("Header decode failed, using raw value",
			zap.String("header", key), zap.Error(err))
		return h.Get(key)
	}
	return value
}

func (p *Parser) headerDate(h message.Header) time.Time {
	mh := mail.Header{Header: h}
	date, err := mh.Date()
	if err != nil || date.IsZero() {
		return time.Now()
	}
	return date
}

// extractBody walks the MIME structure, preferring the first text/plain
// part. When only text/html is present the markup is stripped to
// visible text with whitespace collapsed.
func (p *Parser) extractBody(entity *message.Entity) (string, error) {
	var plainBody, htmlBody *string

	var walk func(e *message.Entity) error
	walk = func(e *message.Entity) error {
		mediaType, _, _ := e.Header.ContentType()

		if strings.HasPrefix(mediaType, "multipart/") {
			mr := e.MultipartReader()
			if mr == nil {
				return nil
			}
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return &core.ParseError{Reason: "reading multipart", Err: err}
				}
				if err := walk(part); err != nil {
					return err
				}
			}
		}

		content, err := io.ReadAll(e.Body)
		if err != nil {
			return &core.ParseError{Reason: "undecodable body part", Err: err}
		}

		switch mediaType {
		case "text/plain", "":
			if plainBody == nil {
				s := string(content)
				plainBody = &s
			}
		case "text/html":
			if htmlBody == nil {
				s := string(content)
				htmlBody = &s
			}
		default:
			// Attachments and other parts are not inspected.
		}
		return nil
	}

	if err := walk(entity); err != nil {
		return "", err
	}

	if plainBody != nil {
		return *plainBody, nil
	}
	if htmlBody != nil {
		return p.text.CollapseWhitespace(html2text.HTML2Text(*htmlBody)), nil
	}
	return "", nil
}
