// Package vc issues and verifies the JWT Verifiable Credential that
// attests a fully signed equity-swap agreement.
package vc

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/polycentric-game/signet/pkg/domain"
)

const (
	// JWTAlg is the fixed token algorithm: secp256k1 over a SHA-256
	// digest of the signing input, 64-byte r||s, low-S.
	JWTAlg = "ES256K"

	CredentialType     = "EquitySwapAgreementCredential"
	credentialsContext = "https://www.w3.org/ns/credentials/v2"
)

var (
	// ErrKeyNotConfigured means the operator has not set an issuer key.
	// Kept distinct from ErrInvalidKey so a missing-config problem is
	// never mistaken for a cryptographic one.
	ErrKeyNotConfigured = errors.New("issuer private key is not configured")
	ErrInvalidKey       = errors.New("issuer private key is malformed")

	ErrNotFullySigned = errors.New("agreement is not fully signed")
	ErrNotFinalized   = errors.New("agreement is not finalized")
)

// AddressToDID renders an Ethereum address as a did:pkh identifier.
func AddressToDID(address string, chainID int64) string {
	return fmt.Sprintf("did:pkh:eip155:%d:%s", chainID, strings.ToLower(address))
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type PartySubject struct {
	ID         string `json:"id"`
	EthAddress string `json:"ethAddress"`
	Signature  string `json:"signature"`
}

type EquityLeg struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Percentage domain.Percent `json:"percentage"`
}

type CredentialSubject struct {
	AgreementID   string       `json:"agreementId"`
	PartyA        PartySubject `json:"partyA"`
	PartyB        PartySubject `json:"partyB"`
	EquitySwap    []EquityLeg  `json:"equitySwap"`
	AgreementHash string       `json:"agreementHash"`
	SignedAt      string       `json:"signedAt"`
}

type Credential struct {
	Context           []string          `json:"@context"`
	Type              []string          `json:"type"`
	CredentialSubject CredentialSubject `json:"credentialSubject"`
}

type Payload struct {
	Iss string     `json:"iss"`
	Sub string     `json:"sub"`
	Nbf int64      `json:"nbf"`
	VC  Credential `json:"vc"`
}

// Issuer signs credential payloads with a process-scoped key, constructed
// once from configuration and passed explicitly to whoever issues.
type Issuer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID int64
}

// NewIssuer parses a hex private key (0x prefix optional). An empty key
// yields ErrKeyNotConfigured, a bad one ErrInvalidKey.
func NewIssuer(privateKeyHex string, chainID int64) (*Issuer, error) {
	trimmed := strings.TrimSpace(privateKeyHex)
	if trimmed == "" {
		return nil, ErrKeyNotConfigured
	}
	trimmed = strings.TrimPrefix(trimmed, "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewIssuerFromKey(key, chainID), nil
}

func NewIssuerFromKey(key *ecdsa.PrivateKey, chainID int64) *Issuer {
	return &Issuer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}
}

func (i *Issuer) Address() common.Address { return i.address }

func (i *Issuer) DID() string {
	return AddressToDID(i.address.Hex(), i.chainID)
}

// BuildPayload assembles the credential body for a finalized agreement.
func (i *Issuer) BuildPayload(ag *domain.Agreement) (Payload, error) {
	if !ag.FullySigned() {
		return Payload{}, ErrNotFullySigned
	}
	if ag.FinalizedAt == nil {
		return Payload{}, ErrNotFinalized
	}
	v := ag.Current()
	if v == nil {
		return Payload{}, errors.New("agreement has no current version")
	}

	partyADID := AddressToDID(ag.PartyAAddress, i.chainID)
	partyBDID := AddressToDID(ag.PartyBAddress, i.chainID)
	signedAt := ag.FinalizedAt.UTC().Format("2006-01-02T15:04:05.000Z")

	return Payload{
		Iss: i.DID(),
		Sub: partyADID,
		Nbf: ag.FinalizedAt.UTC().Unix(),
		VC: Credential{
			Context: []string{credentialsContext},
			Type:    []string{"VerifiableCredential", CredentialType},
			CredentialSubject: CredentialSubject{
				AgreementID: ag.ID,
				PartyA: PartySubject{
					ID:         partyADID,
					EthAddress: strings.ToLower(ag.PartyAAddress),
					Signature:  ag.SigA,
				},
				PartyB: PartySubject{
					ID:         partyBDID,
					EthAddress: strings.ToLower(ag.PartyBAddress),
					Signature:  ag.SigB,
				},
				EquitySwap: []EquityLeg{
					{From: partyADID, To: partyBDID, Percentage: v.EquityFromCompanyA},
					{From: partyBDID, To: partyADID, Percentage: v.EquityFromCompanyB},
				},
				AgreementHash: ag.TermsHash,
				SignedAt:      signedAt,
			},
		},
	}, nil
}

// Sign encodes header and payload as base64url segments and signs the
// ASCII bytes of "header.payload": SHA-256 the message, sign the 32-byte
// digest, emit a fixed 64-byte r||s signature (low-S, deterministic nonce).
func (i *Issuer) Sign(payload Payload) (string, error) {
	headerJSON, err := json.Marshal(Header{Alg: JWTAlg, Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(payloadJSON)

	digest := sha256.Sum256([]byte(signingInput))
	sig, err := crypto.Sign(digest[:], i.key)
	if err != nil {
		return "", err
	}
	// Drop the recovery id: the token carries exactly r||s.
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig[:64]), nil
}

// Issue builds and signs the credential token for ag. Caching on the
// agreement record is the caller's job.
func (i *Issuer) Issue(ag *domain.Agreement) (string, error) {
	payload, err := i.BuildPayload(ag)
	if err != nil {
		return "", err
	}
	return i.Sign(payload)
}
