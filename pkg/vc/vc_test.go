package vc

import (
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/polycentric-game/signet/pkg/canonhash"
	"github.com/polycentric-game/signet/pkg/domain"
	"github.com/polycentric-game/signet/pkg/eip712"
)

// signedAgreement builds a finalized agreement with real party signatures
// over its frozen terms.
func signedAgreement(t *testing.T, signer *eip712.Signer) (*domain.Agreement, *ecdsa.PrivateKey, *ecdsa.PrivateKey) {
	t.Helper()
	keyA, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyB, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addrA := strings.ToLower(crypto.PubkeyToAddress(keyA.PublicKey).Hex())
	addrB := strings.ToLower(crypto.PubkeyToAddress(keyB.PublicKey).Hex())

	finalized := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	ag := &domain.Agreement{
		ID:            "agr_vc1",
		FounderAID:    "fnd_a",
		FounderBID:    "fnd_b",
		Status:        domain.StatusApproved,
		PartyAAddress: addrA,
		PartyBAddress: addrB,
		FinalizedAt:   &finalized,
		CreatedAt:     time.Date(2026, 3, 30, 8, 0, 0, 0, time.UTC),
		Versions: []domain.AgreementVersion{{
			VersionNumber:      0,
			EquityFromCompanyA: domain.MustPercent("10"),
			EquityFromCompanyB: domain.MustPercent("12.5"),
			Notes:              "swap",
		}},
	}
	canonical, err := canonhash.Canonicalize(canonhash.TermsForVersion(ag, ag.Current(), addrA, addrB))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	ag.CanonicalTermsJSON = canonical
	ag.TermsHash = canonhash.HashHex(canonical)

	msg, err := eip712.MessageFromAgreement(ag)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if ag.SigA, err = signer.Sign(msg, keyA); err != nil {
		t.Fatalf("sign A: %v", err)
	}
	if ag.SigB, err = signer.Sign(msg, keyB); err != nil {
		t.Fatalf("sign B: %v", err)
	}
	return ag, keyA, keyB
}

func newTestIssuer(t *testing.T, chainID int64) *Issuer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewIssuerFromKey(key, chainID)
}

func TestIssueAndVerify(t *testing.T) {
	signer := eip712.NewSigner(31337)
	ag, _, _ := signedAgreement(t, signer)
	issuer := newTestIssuer(t, 31337)

	token, err := issuer.Issue(ag)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(strings.Split(token, ".")) != 3 {
		t.Fatalf("token is not three segments: %s", token)
	}

	result := NewVerifier(issuer.Address(), 31337).Verify(token)
	if !result.IsValid {
		t.Fatalf("valid token rejected: %v", result.Errors)
	}
	if result.IssuerDID != issuer.DID() {
		t.Fatalf("issuer DID = %s, want %s", result.IssuerDID, issuer.DID())
	}
	subject := result.Payload.VC.CredentialSubject
	if subject.AgreementID != ag.ID {
		t.Fatalf("agreement id = %s, want %s", subject.AgreementID, ag.ID)
	}
	if subject.AgreementHash != ag.TermsHash {
		t.Fatalf("agreement hash = %s, want %s", subject.AgreementHash, ag.TermsHash)
	}
	if subject.SignedAt != "2026-04-01T10:00:00.000Z" {
		t.Fatalf("signedAt = %s", subject.SignedAt)
	}
	if subject.PartyA.EthAddress != ag.PartyAAddress || subject.PartyB.EthAddress != ag.PartyBAddress {
		t.Fatalf("party addresses %s / %s", subject.PartyA.EthAddress, subject.PartyB.EthAddress)
	}
}

func TestIssueDeterministic(t *testing.T) {
	signer := eip712.NewSigner(31337)
	ag, _, _ := signedAgreement(t, signer)
	issuer := newTestIssuer(t, 31337)

	t1, err := issuer.Issue(ag)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	t2, err := issuer.Issue(ag)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if t1 != t2 {
		t.Fatalf("issuance not deterministic for identical state")
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	signer := eip712.NewSigner(31337)
	ag, _, _ := signedAgreement(t, signer)
	issuer := newTestIssuer(t, 31337)

	token, err := issuer.Issue(ag)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(token, ".")
	raw, _ := base64.RawURLEncoding.DecodeString(parts[1])
	tampered := strings.Replace(string(raw), ag.ID, "agr_attacker", 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(tampered))

	result := NewVerifier(issuer.Address(), 31337).Verify(strings.Join(parts, "."))
	if result.IsValid {
		t.Fatalf("tampered token accepted")
	}
	if !containsError(result.Errors, "token signature verification failed") {
		t.Fatalf("errors = %v", result.Errors)
	}
}

func TestVerifyWrongIssuer(t *testing.T) {
	signer := eip712.NewSigner(31337)
	ag, _, _ := signedAgreement(t, signer)
	issuer := newTestIssuer(t, 31337)
	other := newTestIssuer(t, 31337)

	token, err := issuer.Issue(ag)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	result := NewVerifier(other.Address(), 31337).Verify(token)
	if result.IsValid {
		t.Fatalf("token from a different issuer accepted")
	}
	if !containsError(result.Errors, "invalid issuer") {
		t.Fatalf("errors = %v", result.Errors)
	}
	if !containsError(result.Errors, "token signature verification failed") {
		t.Fatalf("errors = %v", result.Errors)
	}
}

func TestVerifyWrongAlgorithm(t *testing.T) {
	signer := eip712.NewSigner(31337)
	ag, _, _ := signedAgreement(t, signer)
	issuer := newTestIssuer(t, 31337)

	token, err := issuer.Issue(ag)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parts := strings.Split(token, ".")
	parts[0] = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	result := NewVerifier(issuer.Address(), 31337).Verify(strings.Join(parts, "."))
	if result.IsValid {
		t.Fatalf("token with wrong algorithm accepted")
	}
	if !containsError(result.Errors, "unsupported algorithm") {
		t.Fatalf("errors = %v", result.Errors)
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	result := NewVerifier(newTestIssuer(t, 1).Address(), 1).Verify("not-a-jwt")
	if result.IsValid {
		t.Fatalf("malformed token accepted")
	}
	if !containsError(result.Errors, "invalid JWT format") {
		t.Fatalf("errors = %v", result.Errors)
	}
}

func TestVerifyWithAgreementDetectsHashMismatch(t *testing.T) {
	signer := eip712.NewSigner(31337)
	ag, _, _ := signedAgreement(t, signer)
	issuer := newTestIssuer(t, 31337)

	token, err := issuer.Issue(ag)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	verifier := NewVerifier(issuer.Address(), 31337)
	result := verifier.VerifyWithAgreement(token, ag, signer)
	if !result.IsValid {
		t.Fatalf("valid token rejected against its own agreement: %v", result.Errors)
	}

	ag.TermsHash = "0x3333333333333333333333333333333333333333333333333333333333333333"
	result = verifier.VerifyWithAgreement(token, ag, signer)
	if result.IsValid {
		t.Fatalf("token accepted against diverged agreement terms")
	}
	if !containsError(result.Errors, "terms hash mismatch") {
		t.Fatalf("errors = %v", result.Errors)
	}
}

func TestBuildPayloadGuards(t *testing.T) {
	signer := eip712.NewSigner(31337)
	ag, _, _ := signedAgreement(t, signer)
	issuer := newTestIssuer(t, 31337)

	unsigned := ag.Clone()
	unsigned.SigB = ""
	if _, err := issuer.BuildPayload(unsigned); !errors.Is(err, ErrNotFullySigned) {
		t.Fatalf("err = %v, want ErrNotFullySigned", err)
	}

	unfinalized := ag.Clone()
	unfinalized.FinalizedAt = nil
	if _, err := issuer.BuildPayload(unfinalized); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("err = %v, want ErrNotFinalized", err)
	}
}

func TestNewIssuerKeyErrors(t *testing.T) {
	if _, err := NewIssuer("", 1); !errors.Is(err, ErrKeyNotConfigured) {
		t.Fatalf("err = %v, want ErrKeyNotConfigured", err)
	}
	if _, err := NewIssuer("   ", 1); !errors.Is(err, ErrKeyNotConfigured) {
		t.Fatalf("err = %v, want ErrKeyNotConfigured", err)
	}
	if _, err := NewIssuer("0xzz", 1); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("err = %v, want ErrInvalidKey", err)
	}
}

func TestAddressToDID(t *testing.T) {
	did := AddressToDID("0xAbCd000000000000000000000000000000000001", 137)
	if did != "did:pkh:eip155:137:0xabcd000000000000000000000000000000000001" {
		t.Fatalf("did = %s", did)
	}
}

func TestDecodePayload(t *testing.T) {
	signer := eip712.NewSigner(31337)
	ag, _, _ := signedAgreement(t, signer)
	issuer := newTestIssuer(t, 31337)

	token, err := issuer.Issue(ag)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	payload, err := DecodePayload(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.VC.CredentialSubject.AgreementID != ag.ID {
		t.Fatalf("agreement id = %s", payload.VC.CredentialSubject.AgreementID)
	}
	if _, err := DecodePayload("broken"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}

func containsError(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}
