package agreement

import (
	"context"
	"errors"

	"github.com/polycentric-game/signet/pkg/domain"
	"github.com/polycentric-game/signet/pkg/equity"
	"github.com/polycentric-game/signet/pkg/webhooks"
)

type CreateInput struct {
	FounderAID  string
	FounderBID  string
	EquityFromA domain.Percent
	EquityFromB domain.Percent
	Notes       string
	ProposerID  string
	// Signature is the proposer's typed-data signature over version 0.
	// Required when signature enforcement is on.
	Signature string
}

// Create validates the proposed swap and opens a new agreement in the
// proposed state, with the proposer implicitly approving version 0.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Agreement, error) {
	var errs domain.ValidationErrors
	if in.FounderAID == in.FounderBID {
		errs = append(errs, domain.FieldError{Field: "founderBId", Message: "parties must be two distinct founders"})
	}
	if in.Notes == "" {
		errs = append(errs, domain.FieldError{Field: "notes", Message: "notes are required"})
	}
	if in.ProposerID != in.FounderAID && in.ProposerID != in.FounderBID {
		return nil, ErrNotParty
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}

	founderA, err := s.store.GetFounder(ctx, in.FounderAID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ValidationErrors{{Field: "founderAId", Message: "founder A not found"}}
		}
		return nil, err
	}
	founderB, err := s.store.GetFounder(ctx, in.FounderBID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ValidationErrors{{Field: "founderBId", Message: "founder B not found"}}
		}
		return nil, err
	}
	if verrs := equity.ValidateSwap(founderA, founderB, in.EquityFromA, in.EquityFromB); len(verrs) > 0 {
		return nil, verrs
	}

	now := s.now()
	ag := &domain.Agreement{
		ID:             s.newID(),
		FounderAID:     in.FounderAID,
		FounderBID:     in.FounderBID,
		Status:         domain.StatusProposed,
		InitiatedBy:    in.ProposerID,
		LastRevisedBy:  in.ProposerID,
		CurrentVersion: 0,
		Versions: []domain.AgreementVersion{{
			VersionNumber:      0,
			EquityFromCompanyA: in.EquityFromA,
			EquityFromCompanyB: in.EquityFromB,
			Notes:              in.Notes,
			ProposedBy:         in.ProposerID,
			ProposedAt:         now,
			ApprovedBy:         []string{in.ProposerID},
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if s.requireSigs {
		if err := s.verifyProposerSignature(ag, founderA, founderB, in.ProposerID, in.Signature); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveAgreement(ctx, ag); err != nil {
		return nil, err
	}
	s.log.Info().Str("agreement_id", ag.ID).
		Str("founder_a", ag.FounderAID).Str("founder_b", ag.FounderBID).
		Msg("agreement proposed")
	return ag, nil
}

type ReviseInput struct {
	EquityFromA domain.Percent
	EquityFromB domain.Percent
	Notes       string
	ProposerID  string
	Signature   string
}

// ProposeRevision appends a new version and moves the agreement to the
// revised state. Any party-slot signatures collected for the previous
// version are cleared along with the cached canonical terms and hash, so
// signatures only ever attest the current version.
func (s *Service) ProposeRevision(ctx context.Context, agreementID string, in ReviseInput) (*domain.Agreement, error) {
	unlock := s.lockAgreement(agreementID)
	defer unlock()

	ag, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !ag.IsParty(in.ProposerID) {
		return nil, ErrNotParty
	}
	if ag.Status == domain.StatusCompleted {
		return nil, ErrCompleted
	}
	if in.Notes == "" {
		return nil, domain.ValidationErrors{{Field: "notes", Message: "notes are required"}}
	}

	// Remaining equity is computed from committed state only; this
	// agreement's own pending terms are not reserved.
	founderA, founderB, err := s.loadParties(ctx, ag)
	if err != nil {
		return nil, err
	}
	if verrs := equity.ValidateSwap(founderA, founderB, in.EquityFromA, in.EquityFromB); len(verrs) > 0 {
		return nil, verrs
	}

	now := s.now()
	ag.Versions = append(ag.Versions, domain.AgreementVersion{
		VersionNumber:      len(ag.Versions),
		EquityFromCompanyA: in.EquityFromA,
		EquityFromCompanyB: in.EquityFromB,
		Notes:              in.Notes,
		ProposedBy:         in.ProposerID,
		ProposedAt:         now,
		ApprovedBy:         []string{in.ProposerID},
	})
	ag.CurrentVersion = len(ag.Versions) - 1
	ag.Status = domain.StatusRevised
	ag.LastRevisedBy = in.ProposerID

	// Stale signatures and the frozen hash belong to the superseded
	// version.
	ag.SigA = ""
	ag.SigB = ""
	ag.CanonicalTermsJSON = ""
	ag.TermsHash = ""
	ag.UpdatedAt = now

	if s.requireSigs {
		if err := s.verifyProposerSignature(ag, founderA, founderB, in.ProposerID, in.Signature); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveAgreement(ctx, ag); err != nil {
		return nil, err
	}
	s.log.Info().Str("agreement_id", ag.ID).Int("version", ag.CurrentVersion).
		Str("proposed_by", in.ProposerID).Msg("revision proposed")
	return ag, nil
}

// Approve records founderID's approval of the current version, optionally
// with a typed-data signature, and fires the approved transition plus the
// one-time equity commit once both parties are in.
func (s *Service) Approve(ctx context.Context, agreementID, founderID, signature string) (*domain.Agreement, error) {
	unlock := s.lockAgreement(agreementID)
	defer unlock()

	ag, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !ag.IsParty(founderID) {
		return nil, ErrNotParty
	}
	if ag.Status == domain.StatusCompleted {
		return nil, ErrCompleted
	}
	v := ag.Current()
	if v == nil {
		return nil, ErrNoCurrentVersion
	}
	if v.HasApproved(founderID) {
		return nil, ErrAlreadyApproved
	}

	if signature != "" {
		founderA, founderB, err := s.loadParties(ctx, ag)
		if err != nil {
			return nil, err
		}
		if err := s.verifySignatureFor(ag, founderA, founderB, founderID, signature); err != nil {
			return nil, err
		}
		s.recordSignature(ag, founderID, signature)
	} else if s.requireSigs && ag.SlotSignature(founderID) == "" {
		return nil, ErrSignatureRequired
	}

	v.ApprovedBy = append(v.ApprovedBy, founderID)
	ag.UpdatedAt = s.now()

	if err := s.maybeCommit(ctx, ag); err != nil {
		return nil, err
	}
	if err := s.store.SaveAgreement(ctx, ag); err != nil {
		return nil, err
	}
	return ag, nil
}

// maybeCommit fires the proposed/revised -> approved transition once both
// parties appear in the current version's approvals (and, under signature
// enforcement, both party slots are signed). Both founders are re-read
// immediately before the debit so concurrent finalizations of a founder's
// other agreements cannot lose updates. Runs under the agreement lock; the
// status check makes the commit exactly-once.
func (s *Service) maybeCommit(ctx context.Context, ag *domain.Agreement) error {
	if ag.Status == domain.StatusApproved || ag.Status == domain.StatusCompleted {
		return nil
	}
	v := ag.Current()
	if v == nil {
		return ErrNoCurrentVersion
	}
	if !v.HasApproved(ag.FounderAID) || !v.HasApproved(ag.FounderBID) {
		return nil
	}
	if s.requireSigs && !ag.FullySigned() {
		return nil
	}

	founderA, founderB, err := s.loadParties(ctx, ag)
	if err != nil {
		return err
	}
	now := s.now()
	equity.Commit(founderA, founderB, v.EquityFromCompanyA, v.EquityFromCompanyB, now)
	if err := s.store.SaveFounder(ctx, founderA); err != nil {
		return err
	}
	if err := s.store.SaveFounder(ctx, founderB); err != nil {
		return err
	}
	ag.Status = domain.StatusApproved
	ag.UpdatedAt = now
	s.log.Info().Str("agreement_id", ag.ID).Int("version", v.VersionNumber).
		Str("equity_a_to_b", v.EquityFromCompanyA.String()).
		Str("equity_b_to_a", v.EquityFromCompanyB.String()).
		Msg("agreement approved, equity committed")
	s.emit(ctx, webhooks.EventAgreementApproved, ag, map[string]any{
		"version":    v.VersionNumber,
		"equityAtoB": v.EquityFromCompanyA,
		"equityBtoA": v.EquityFromCompanyB,
	})
	return nil
}

// Complete marks an approved agreement completed. Terminal: nothing below
// the version list mutates afterwards.
func (s *Service) Complete(ctx context.Context, agreementID, founderID string) (*domain.Agreement, error) {
	unlock := s.lockAgreement(agreementID)
	defer unlock()

	ag, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !ag.IsParty(founderID) {
		return nil, ErrNotParty
	}
	if ag.Status != domain.StatusApproved {
		if ag.Status == domain.StatusCompleted {
			return nil, ErrCompleted
		}
		return nil, ErrNotApproved
	}
	if s.requireSigs && !ag.FullySigned() {
		return nil, ErrNotFullySigned
	}

	ag.Status = domain.StatusCompleted
	ag.UpdatedAt = s.now()
	if err := s.store.SaveAgreement(ctx, ag); err != nil {
		return nil, err
	}
	s.log.Info().Str("agreement_id", ag.ID).Msg("agreement completed")
	return ag, nil
}
