// Package webhooks delivers signed agreement lifecycle events to an
// operator-configured endpoint, and verifies such deliveries on the
// receiving side.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SignatureHeader = "X-Signet-Signature"
	EventIDHeader   = "X-Signet-Event-Id"
	EventTypeHeader = "X-Signet-Event-Type"

	scheme = "hmac-sha256/v1"
)

const (
	EventAgreementApproved  = "agreement.approved"
	EventAgreementFinalized = "agreement.finalized"
	EventCredentialIssued   = "credential.issued"
)

// Event is one lifecycle notification. The signature covers the exact raw
// body bytes, so receivers must verify before re-serializing.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	AgreementID string    `json:"agreementId"`
	OccurredAt  time.Time `json:"occurredAt"`
	Data        any       `json:"data,omitempty"`
}

func NewEvent(eventType, agreementID string, occurredAt time.Time, data any) Event {
	return Event{
		ID:          "evt_" + uuid.NewString(),
		Type:        eventType,
		AgreementID: agreementID,
		OccurredAt:  occurredAt.UTC(),
		Data:        data,
	}
}

// Notifier posts events to a single endpoint with an HMAC-SHA256 signature
// over the body.
type Notifier struct {
	url    string
	secret string
	client *http.Client
}

func NewNotifier(url, secret string) (*Notifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("webhook url is empty")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Send delivers one event. Any non-2xx response is an error; retrying is
// the caller's decision.
func (n *Notifier) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sign(n.secret, body))
	req.Header.Set(EventIDHeader, ev.ID)
	req.Header.Set(EventTypeHeader, ev.Type)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver event %s: %w", ev.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver event %s: endpoint returned %d", ev.ID, resp.StatusCode)
	}
	return nil
}

// VerificationResult reports one inbound delivery check. Details carries
// per-step outcomes so a failed check is diagnosable.
type VerificationResult struct {
	Valid           bool
	Scheme          string
	ProviderEventID string
	EventType       string
	Details         map[string]any
}

// Verify checks an inbound delivery against the shared secret. A missing
// or malformed signature is an invalid result, not an error; only a
// missing secret errors.
func Verify(headers http.Header, rawBody []byte, secret string) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" {
		return VerificationResult{}, fmt.Errorf("webhook secret is empty")
	}

	res := VerificationResult{
		Scheme: scheme,
		Details: map[string]any{
			"signature_header_present": false,
			"signature_hex_decodable":  false,
			"used_header":              SignatureHeader,
		},
		ProviderEventID: strings.TrimSpace(headers.Get(EventIDHeader)),
		EventType:       strings.TrimSpace(headers.Get(EventTypeHeader)),
	}
	if res.EventType == "" {
		res.EventType = "unknown"
	}

	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return res, nil
	}
	res.Details["signature_header_present"] = true

	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return res, nil
	}
	res.Details["signature_hex_decodable"] = true

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	res.Valid = hmac.Equal(mac.Sum(nil), provided)
	return res, nil
}
