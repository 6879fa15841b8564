// Package gateway turns raw webhook deliveries from the chat transport
// into normalized messages, exactly once. The transport retries on
// transient failures, so every event carries an external message id
// and the gateway records each id it has handled; a redelivery is
// answered with ErrDuplicate and must cause no booking side effects.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrDuplicate means this external message id was already processed.
	// An idempotent no-op for the caller, not a failure.
	ErrDuplicate = errors.New("message already processed")
	// ErrMalformed means the payload is missing its sender, id or body.
	// Nothing is recorded, so a corrected resend is not a duplicate.
	ErrMalformed = errors.New("malformed webhook payload")
	// ErrIgnored covers events dropped silently: our own outbound
	// messages echoed back and non-text message types.
	ErrIgnored = errors.New("event ignored")
)

// NormalizedMessage is what the orchestration layer consumes.
type NormalizedMessage struct {
	ExternalID string
	From       string // sender phone, normalized digits
	To         string
	Body       string
	SenderName string
	ReceivedAt time.Time
}

// SeenStore is the dedup ledger: MarkSeen records an external id and
// reports whether this call was the first to do so. The check and the
// record are one atomic operation.
type SeenStore interface {
	MarkSeen(ctx context.Context, externalID, fromPhone string) (bool, error)
}

type Gateway struct {
	seen SeenStore
	log  zerolog.Logger
}

func New(seen SeenStore, log zerolog.Logger) *Gateway {
	return &Gateway{
		seen: seen,
		log:  log.With().Str("component", "gateway").Logger(),
	}
}

// envelope is the UltraMsg-style webhook body. Events usually arrive
// wrapped in a data object; some senders post the fields flat.
type envelope struct {
	Data *eventData `json:"data"`
	eventData
}

type eventData struct {
	ID       flexID `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Body     string `json:"body"`
	Type     string `json:"type"`
	FromMe   bool   `json:"fromMe"`
	Pushname string `json:"pushname"`
}

// flexID accepts both string and numeric message ids.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

// Ingest validates, normalizes and deduplicates one raw webhook event.
func (g *Gateway) Ingest(ctx context.Context, raw []byte) (*NormalizedMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrMalformed
	}

	data := env.eventData
	if env.Data != nil {
		data = *env.Data
	}

	// Our own outbound messages come back through the same webhook.
	if data.FromMe {
		g.log.Debug().Str("external_id", data.ID.String()).Msg("dropping self-sent echo")
		return nil, ErrIgnored
	}
	if data.Type != "" && data.Type != "text" {
		g.log.Debug().Str("type", data.Type).Msg("dropping non-text event")
		return nil, ErrIgnored
	}

	msg := &NormalizedMessage{
		ExternalID: data.ID.String(),
		From:       NormalizePhone(data.From),
		To:         NormalizePhone(data.To),
		Body:       strings.TrimSpace(data.Body),
		SenderName: strings.TrimSpace(data.Pushname),
		ReceivedAt: time.Now(),
	}

	// Reject before recording: a malformed event must not poison the
	// dedup ledger against its own corrected resend.
	if msg.ExternalID == "" || msg.From == "" || msg.Body == "" {
		return nil, ErrMalformed
	}

	first, err := g.seen.MarkSeen(ctx, msg.ExternalID, msg.From)
	if err != nil {
		return nil, fmt.Errorf("record inbound message: %w", err)
	}
	if !first {
		g.log.Info().Str("external_id", msg.ExternalID).Msg("duplicate delivery dropped")
		return nil, ErrDuplicate
	}

	return msg, nil
}

// NormalizePhone strips transport decoration from a phone number:
// "whatsapp:+97455512345@c.us" becomes "97455512345".
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "whatsapp:")
	if at := strings.IndexByte(p, '@'); at >= 0 {
		p = p[:at]
	}
	var b strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
