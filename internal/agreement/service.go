// Package agreement owns the negotiation state machine: version history,
// status transitions, approval and signature bookkeeping, finalization and
// credential issuance for bilateral equity swaps.
package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polycentric-game/signet/pkg/domain"
	"github.com/polycentric-game/signet/pkg/eip712"
	"github.com/polycentric-game/signet/pkg/vc"
	"github.com/polycentric-game/signet/pkg/webhooks"
)

var (
	ErrNotParty          = errors.New("founder is not a party to this agreement")
	ErrCompleted         = errors.New("agreement is already completed")
	ErrAlreadyApproved   = errors.New("founder has already approved this version")
	ErrNotApproved       = errors.New("agreement must be approved before completion")
	ErrNotFullySigned    = errors.New("agreement is not fully signed")
	ErrSignatureRequired = errors.New("a typed-data signature from the proposer is required")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrNoCurrentVersion  = errors.New("agreement has no current version")
)

// MissingSignatureError names exactly which party slots are unsigned.
type MissingSignatureError struct {
	Missing []string
}

func (e *MissingSignatureError) Error() string {
	return fmt.Sprintf("agreement is not fully signed: missing signatures from %s",
		strings.Join(e.Missing, ", "))
}

func (e *MissingSignatureError) Unwrap() error { return ErrNotFullySigned }

// Store is the persistence the state machine needs: load by id, save by id
// (last-write-wins upsert). Not-found surfaces as domain.ErrNotFound.
type Store interface {
	GetAgreement(ctx context.Context, id string) (*domain.Agreement, error)
	SaveAgreement(ctx context.Context, ag *domain.Agreement) error
	ListAgreementsByFounder(ctx context.Context, founderID string) ([]*domain.Agreement, error)
	GetFounder(ctx context.Context, id string) (*domain.Founder, error)
	SaveFounder(ctx context.Context, f *domain.Founder) error
}

// Service linearizes all mutating operations per agreement id with an
// in-process mutex, as the approval-to-finalization transition requires.
type Service struct {
	store       Store
	signer      *eip712.Signer
	issuer      *vc.Issuer
	notifier    *webhooks.Notifier
	log         zerolog.Logger
	now         func() time.Time
	newID       func() string
	requireSigs bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Service)

// WithIssuer enables credential issuance. Without it the credential
// surfaces report the issuer key as not configured.
func WithIssuer(issuer *vc.Issuer) Option {
	return func(s *Service) { s.issuer = issuer }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithNotifier enables outbound lifecycle webhooks. Delivery is best
// effort and never fails the triggering operation.
func WithNotifier(n *webhooks.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// RequireSignatures makes create, revision and approval demand a verified
// typed-data signature, and gates the approved transition on both party
// slots being signed.
func RequireSignatures(on bool) Option {
	return func(s *Service) { s.requireSigs = on }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store Store, signer *eip712.Signer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		signer: signer,
		log:    zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return "agr_" + uuid.NewString() },
		locks:  map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Agreement, error) {
	return s.store.GetAgreement(ctx, id)
}

// ListByFounder returns every agreement the founder is a party to, oldest
// first. The founder must exist.
func (s *Service) ListByFounder(ctx context.Context, founderID string) ([]*domain.Agreement, error) {
	if _, err := s.store.GetFounder(ctx, founderID); err != nil {
		return nil, err
	}
	return s.store.ListAgreementsByFounder(ctx, founderID)
}

// lockAgreement serializes operations on one agreement id. Returns the
// unlock func.
func (s *Service) lockAgreement(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Service) emit(ctx context.Context, eventType string, ag *domain.Agreement, data any) {
	if s.notifier == nil {
		return
	}
	ev := webhooks.NewEvent(eventType, ag.ID, s.now(), data)
	if err := s.notifier.Send(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("agreement_id", ag.ID).Str("event", eventType).
			Msg("webhook delivery failed")
	}
}

func (s *Service) loadParties(ctx context.Context, ag *domain.Agreement) (*domain.Founder, *domain.Founder, error) {
	founderA, err := s.store.GetFounder(ctx, ag.FounderAID)
	if err != nil {
		return nil, nil, fmt.Errorf("load founder A: %w", err)
	}
	founderB, err := s.store.GetFounder(ctx, ag.FounderBID)
	if err != nil {
		return nil, nil, fmt.Errorf("load founder B: %w", err)
	}
	return founderA, founderB, nil
}
