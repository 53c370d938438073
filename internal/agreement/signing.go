package agreement

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/polycentric-game/signet/pkg/canonhash"
	"github.com/polycentric-game/signet/pkg/domain"
	"github.com/polycentric-game/signet/pkg/eip712"
	"github.com/polycentric-game/signet/pkg/vc"
	"github.com/polycentric-game/signet/pkg/webhooks"
)

// ensureSigningFields lazily resolves both party addresses from the founder
// records and freezes the current version's canonical terms and hash on the
// agreement. Idempotent: once cached, the hash is never recomputed.
func (s *Service) ensureSigningFields(ag *domain.Agreement, founderA, founderB *domain.Founder) (bool, error) {
	changed := false
	if ag.PartyAAddress == "" {
		if founderA.EthereumAddress == "" {
			return changed, fmt.Errorf("founder A %s: %w", founderA.ID, eip712.ErrPartyAddressMissing)
		}
		ag.PartyAAddress = strings.ToLower(founderA.EthereumAddress)
		changed = true
	}
	if ag.PartyBAddress == "" {
		if founderB.EthereumAddress == "" {
			return changed, fmt.Errorf("founder B %s: %w", founderB.ID, eip712.ErrPartyAddressMissing)
		}
		ag.PartyBAddress = strings.ToLower(founderB.EthereumAddress)
		changed = true
	}
	if ag.TermsHash == "" {
		v := ag.Current()
		if v == nil {
			return changed, ErrNoCurrentVersion
		}
		terms := canonhash.TermsForVersion(ag, v, ag.PartyAAddress, ag.PartyBAddress)
		canonical, err := canonhash.Canonicalize(terms)
		if err != nil {
			return changed, err
		}
		ag.CanonicalTermsJSON = canonical
		ag.TermsHash = canonhash.HashHex(canonical)
		changed = true
	}
	return changed, nil
}

// verifySignatureFor checks a typed-data signature attributed to founderID
// against the current version's message.
func (s *Service) verifySignatureFor(ag *domain.Agreement, founderA, founderB *domain.Founder, founderID, signature string) error {
	if _, err := s.ensureSigningFields(ag, founderA, founderB); err != nil {
		return err
	}
	claimed := ag.PartyAAddress
	if founderID == ag.FounderBID {
		claimed = ag.PartyBAddress
	}
	msg, err := eip712.MessageFromAgreement(ag)
	if err != nil {
		return err
	}
	if !s.signer.Verify(msg, claimed, signature) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Service) verifyProposerSignature(ag *domain.Agreement, founderA, founderB *domain.Founder, proposerID, signature string) error {
	if signature == "" {
		return ErrSignatureRequired
	}
	if err := s.verifySignatureFor(ag, founderA, founderB, proposerID, signature); err != nil {
		return err
	}
	s.recordSignature(ag, proposerID, signature)
	return nil
}

// recordSignature stores the raw signature in both bookkeeping structures:
// the founder-id-keyed map on the version and the fixed party slot.
func (s *Service) recordSignature(ag *domain.Agreement, founderID, signature string) {
	if v := ag.Current(); v != nil {
		if v.Signatures == nil {
			v.Signatures = map[string]string{}
		}
		v.Signatures[founderID] = signature
	}
	ag.SetSlotSignature(founderID, signature)
}

// SigningPayload is the structured-data bundle a wallet needs to sign the
// current version: fixed domain, type definitions and the message with
// integer-encoded equity fields.
type SigningPayload struct {
	Domain      apitypes.TypedDataDomain `json:"domain"`
	Types       apitypes.Types           `json:"types"`
	PrimaryType string                   `json:"primaryType"`
	Message     map[string]any           `json:"message"`
}

// BuildSigningPayload resolves the typed data for requesterAddress, which
// must be one of the two party addresses.
func (s *Service) BuildSigningPayload(ctx context.Context, agreementID, requesterAddress string) (*SigningPayload, error) {
	unlock := s.lockAgreement(agreementID)
	defer unlock()

	ag, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	founderA, founderB, err := s.loadParties(ctx, ag)
	if err != nil {
		return nil, err
	}
	changed, err := s.ensureSigningFields(ag, founderA, founderB)
	if err != nil {
		return nil, err
	}
	if _, ok := ag.FounderBySlotAddress(requesterAddress); !ok {
		return nil, ErrNotParty
	}
	if changed {
		ag.UpdatedAt = s.now()
		if err := s.store.SaveAgreement(ctx, ag); err != nil {
			return nil, err
		}
	}

	msg, err := eip712.MessageFromAgreement(ag)
	if err != nil {
		return nil, err
	}
	return &SigningPayload{
		Domain:      s.signer.Domain(),
		Types:       s.signer.Types(),
		PrimaryType: eip712.PrimaryType,
		Message:     s.signer.JSONMessage(msg),
	}, nil
}

// SubmitSignature verifies a party's typed-data signature over the current
// version, records it, runs the approval transition and, when the
// signature completes the pair, finalizes the agreement and issues the
// credential inline best-effort. The second return reports whether
// finalization happened on this call.
func (s *Service) SubmitSignature(ctx context.Context, agreementID, signerAddress, signature string) (*domain.Agreement, bool, error) {
	unlock := s.lockAgreement(agreementID)
	defer unlock()

	ag, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, false, err
	}
	if ag.Status == domain.StatusCompleted {
		return nil, false, ErrCompleted
	}
	founderA, founderB, err := s.loadParties(ctx, ag)
	if err != nil {
		return nil, false, err
	}
	if _, err := s.ensureSigningFields(ag, founderA, founderB); err != nil {
		return nil, false, err
	}

	founderID, ok := ag.FounderBySlotAddress(signerAddress)
	if !ok {
		return nil, false, ErrNotParty
	}
	v := ag.Current()
	if v == nil {
		return nil, false, ErrNoCurrentVersion
	}
	if v.HasApproved(founderID) && ag.SlotSignature(founderID) != "" {
		return nil, false, ErrAlreadyApproved
	}

	msg, err := eip712.MessageFromAgreement(ag)
	if err != nil {
		return nil, false, err
	}
	if !s.signer.Verify(msg, signerAddress, signature) {
		return nil, false, ErrInvalidSignature
	}

	s.recordSignature(ag, founderID, signature)
	if !v.HasApproved(founderID) {
		v.ApprovedBy = append(v.ApprovedBy, founderID)
	}
	if err := s.maybeCommit(ctx, ag); err != nil {
		return nil, false, err
	}

	finalized := false
	if ag.FullySigned() && ag.FinalizedAt == nil {
		t := s.now()
		ag.FinalizedAt = &t
		finalized = true
	}
	ag.UpdatedAt = s.now()
	// The signed state persists before issuance is attempted; a
	// credential failure never loses a recorded signature.
	if err := s.store.SaveAgreement(ctx, ag); err != nil {
		return nil, false, err
	}

	if finalized {
		s.log.Info().Str("agreement_id", ag.ID).Msg("agreement finalized, both parties signed")
		s.emit(ctx, webhooks.EventAgreementFinalized, ag, map[string]any{
			"termsHash": ag.TermsHash,
		})
		s.issueInline(ctx, ag)
	}
	return ag, finalized, nil
}

// issueInline issues the credential after finalization. Best effort:
// failures are logged and retried later through the credential surface.
func (s *Service) issueInline(ctx context.Context, ag *domain.Agreement) {
	if s.issuer == nil {
		s.log.Warn().Str("agreement_id", ag.ID).Msg("credential issuer not configured, skipping inline issuance")
		return
	}
	token, err := s.issuer.Issue(ag)
	if err != nil {
		s.log.Error().Err(err).Str("agreement_id", ag.ID).Msg("inline credential issuance failed")
		return
	}
	ag.VCJWT = token
	ag.UpdatedAt = s.now()
	if err := s.store.SaveAgreement(ctx, ag); err != nil {
		s.log.Error().Err(err).Str("agreement_id", ag.ID).Msg("issued credential could not be persisted")
		return
	}
	s.log.Info().Str("agreement_id", ag.ID).Msg("credential issued")
	s.emit(ctx, webhooks.EventCredentialIssued, ag, nil)
}

// Credential returns the cached credential token for a party, lazily
// finalizing and issuing when both signatures exist but issuance has not
// happened yet. Incomplete signatures surface as MissingSignatureError.
func (s *Service) Credential(ctx context.Context, agreementID, requesterAddress string) (string, error) {
	unlock := s.lockAgreement(agreementID)
	defer unlock()

	ag, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return "", err
	}
	founderA, founderB, err := s.loadParties(ctx, ag)
	if err != nil {
		return "", err
	}
	if _, err := s.ensureSigningFields(ag, founderA, founderB); err != nil {
		return "", err
	}
	if _, ok := ag.FounderBySlotAddress(requesterAddress); !ok {
		return "", ErrNotParty
	}

	// A cached token is authoritative; repeat calls are idempotent.
	if ag.VCJWT != "" {
		return ag.VCJWT, nil
	}

	var missing []string
	if ag.SigA == "" {
		missing = append(missing, "Party A")
	}
	if ag.SigB == "" {
		missing = append(missing, "Party B")
	}
	if len(missing) > 0 {
		return "", &MissingSignatureError{Missing: missing}
	}

	if ag.FinalizedAt == nil {
		t := s.now()
		ag.FinalizedAt = &t
	}
	if s.issuer == nil {
		return "", vc.ErrKeyNotConfigured
	}
	token, err := s.issuer.Issue(ag)
	if err != nil {
		return "", err
	}
	ag.VCJWT = token
	ag.UpdatedAt = s.now()
	if err := s.store.SaveAgreement(ctx, ag); err != nil {
		// The token was computed but the agreement record does not
		// reflect it; surface as an issuance failure.
		return "", fmt.Errorf("credential issued but not persisted: %w", err)
	}
	s.log.Info().Str("agreement_id", ag.ID).Msg("credential issued")
	s.emit(ctx, webhooks.EventCredentialIssued, ag, nil)
	return token, nil
}
