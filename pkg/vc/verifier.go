package vc

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/polycentric-game/signet/pkg/domain"
	"github.com/polycentric-game/signet/pkg/eip712"
)

// Result carries the full diagnostic of one verification pass. Errors are
// accumulated, not short-circuited, so a caller sees every failure at once.
type Result struct {
	IsValid   bool     `json:"isValid"`
	IssuerDID string   `json:"issuerDid,omitempty"`
	Payload   *Payload `json:"payload,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Verifier checks credential tokens against an expected issuer address.
type Verifier struct {
	issuerAddress common.Address
	chainID       int64
}

func NewVerifier(issuerAddress common.Address, chainID int64) *Verifier {
	return &Verifier{issuerAddress: issuerAddress, chainID: chainID}
}

// Verify decodes a three-segment token and checks algorithm, issuer,
// credential type and the issuer signature over the token bytes. A token
// is never reported valid without the signature check passing.
func (v *Verifier) Verify(token string) Result {
	return v.verify(token, nil, nil)
}

// VerifyWithAgreement additionally back-checks the embedded party
// signatures against the stored agreement via the typed-data signer, and
// flags a terms-hash mismatch.
func (v *Verifier) VerifyWithAgreement(token string, ag *domain.Agreement, signer *eip712.Signer) Result {
	return v.verify(token, ag, signer)
}

func (v *Verifier) verify(token string, ag *domain.Agreement, signer *eip712.Signer) Result {
	var errs []string

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Result{Errors: []string{"invalid JWT format"}}
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Result{Errors: []string{"invalid JWT header"}}
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Result{Errors: []string{"invalid JWT header"}}
	}
	if header.Alg != JWTAlg {
		errs = append(errs, fmt.Sprintf("unsupported algorithm: %s", header.Alg))
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Result{Errors: append(errs, "invalid JWT payload")}
	}
	var payload Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return Result{Errors: append(errs, "invalid JWT payload")}
	}

	expectedIssuer := AddressToDID(v.issuerAddress.Hex(), v.chainID)
	if payload.Iss != expectedIssuer {
		errs = append(errs, fmt.Sprintf("invalid issuer: expected %s, got %s", expectedIssuer, payload.Iss))
	}

	if !hasType(payload.VC.Type, CredentialType) {
		errs = append(errs, "missing or invalid VC type")
	}

	if err := v.verifyTokenSignature(parts[0]+"."+parts[1], parts[2]); err != nil {
		errs = append(errs, err.Error())
	}

	if ag != nil && signer != nil {
		errs = append(errs, v.checkAgainstAgreement(payload, ag, signer)...)
	}

	return Result{
		IsValid:   len(errs) == 0,
		IssuerDID: payload.Iss,
		Payload:   &payload,
		Errors:    errs,
	}
}

// verifyTokenSignature recovers the signer of sha256(signingInput) from the
// 64-byte r||s segment. Without a recovery id both candidates are tried;
// either recovering the issuer address is sufficient.
func (v *Verifier) verifyTokenSignature(signingInput, sigSegment string) error {
	sig, err := base64.RawURLEncoding.DecodeString(sigSegment)
	if err != nil {
		return fmt.Errorf("invalid token signature encoding")
	}
	if len(sig) != 64 {
		return fmt.Errorf("invalid token signature length")
	}
	digest := sha256.Sum256([]byte(signingInput))

	full := make([]byte, 65)
	copy(full, sig)
	for recID := byte(0); recID < 2; recID++ {
		full[64] = recID
		pub, err := crypto.SigToPub(digest[:], full)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*pub) == v.issuerAddress {
			return nil
		}
	}
	return fmt.Errorf("token signature verification failed")
}

func (v *Verifier) checkAgainstAgreement(payload Payload, ag *domain.Agreement, signer *eip712.Signer) []string {
	var errs []string

	msg, err := eip712.MessageFromAgreement(ag)
	if err != nil {
		return []string{"agreement back-check unavailable: " + err.Error()}
	}

	subject := payload.VC.CredentialSubject
	if subject.PartyA.Signature != "" && subject.PartyA.EthAddress != "" {
		if !signer.Verify(msg, subject.PartyA.EthAddress, subject.PartyA.Signature) {
			errs = append(errs, "invalid party A signature in VC")
		}
	}
	if subject.PartyB.Signature != "" && subject.PartyB.EthAddress != "" {
		if !signer.Verify(msg, subject.PartyB.EthAddress, subject.PartyB.Signature) {
			errs = append(errs, "invalid party B signature in VC")
		}
	}
	if subject.AgreementHash != "" && ag.TermsHash != "" &&
		!strings.EqualFold(subject.AgreementHash, ag.TermsHash) {
		errs = append(errs, "terms hash mismatch")
	}
	return errs
}

// DecodePayload extracts the claims segment of a token without verifying it.
func DecodePayload(token string) (*Payload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid JWT format")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid JWT payload: %w", err)
	}
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid JWT payload: %w", err)
	}
	return &payload, nil
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
