// Package eip712 builds and verifies the typed-data message each party
// signs over one agreement version's terms.
package eip712

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/polycentric-game/signet/pkg/domain"
)

const (
	DomainName    = "EquitySwapApp"
	DomainVersion = "1"
	PrimaryType   = "EquitySwapAgreement"
)

var ErrPartyAddressMissing = errors.New("party addresses are not resolved on the agreement")

var basisPointScale = decimal.NewFromInt(10000)

// EncodeBasisPoints converts a percentage into the fixed-point integer that
// goes into the signed payload: percentage x 10000, banker's rounding to
// the nearest integer.
func EncodeBasisPoints(p domain.Percent) *big.Int {
	return p.Decimal.Mul(basisPointScale).RoundBank(0).BigInt()
}

// DecodeBasisPoints is the inverse mapping, for display only.
func DecodeBasisPoints(bp *big.Int) domain.Percent {
	return domain.PercentFromDecimal(decimal.NewFromBigInt(bp, 0).Div(basisPointScale))
}

// Message is the structured payload under the fixed EquitySwapAgreement
// schema. Building it twice from the same version terms and resolved
// addresses must reproduce byte-identical typed data.
type Message struct {
	AgreementID string
	PartyA      common.Address
	PartyB      common.Address
	EquityAtoB  *big.Int
	EquityBtoA  *big.Int
	TermsHash   common.Hash
}

// MessageFromAgreement derives the message for the agreement's current
// version. Party addresses and the cached terms hash must already be set.
func MessageFromAgreement(ag *domain.Agreement) (Message, error) {
	if ag.PartyAAddress == "" || ag.PartyBAddress == "" {
		return Message{}, ErrPartyAddressMissing
	}
	v := ag.Current()
	if v == nil {
		return Message{}, errors.New("agreement has no current version")
	}
	return Message{
		AgreementID: ag.ID,
		PartyA:      common.HexToAddress(ag.PartyAAddress),
		PartyB:      common.HexToAddress(ag.PartyBAddress),
		EquityAtoB:  EncodeBasisPoints(v.EquityFromCompanyA),
		EquityBtoA:  EncodeBasisPoints(v.EquityFromCompanyB),
		TermsHash:   common.HexToHash(ag.TermsHash),
	}, nil
}

// Signer hashes, signs and verifies EquitySwapAgreement messages under a
// fixed domain. The verifying contract is the zero address; no contract
// actually settles the swap.
type Signer struct {
	chainID           int64
	verifyingContract common.Address
}

func NewSigner(chainID int64) *Signer {
	return &Signer{chainID: chainID}
}

func (s *Signer) ChainID() int64 { return s.chainID }

func (s *Signer) Domain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainId:           math.NewHexOrDecimal256(s.chainID),
		VerifyingContract: s.verifyingContract.Hex(),
	}
}

func (s *Signer) Types() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		PrimaryType: {
			{Name: "agreementId", Type: "string"},
			{Name: "partyA", Type: "address"},
			{Name: "partyB", Type: "address"},
			{Name: "equityAtoB", Type: "uint256"},
			{Name: "equityBtoA", Type: "uint256"},
			{Name: "termsHash", Type: "bytes32"},
		},
	}
}

// TypedData assembles the full EIP-712 structure for msg.
func (s *Signer) TypedData(msg Message) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       s.Types(),
		PrimaryType: PrimaryType,
		Domain:      s.Domain(),
		Message: apitypes.TypedDataMessage{
			"agreementId": msg.AgreementID,
			"partyA":      strings.ToLower(msg.PartyA.Hex()),
			"partyB":      strings.ToLower(msg.PartyB.Hex()),
			"equityAtoB":  (*math.HexOrDecimal256)(msg.EquityAtoB),
			"equityBtoA":  (*math.HexOrDecimal256)(msg.EquityBtoA),
			"termsHash":   msg.TermsHash.Hex(),
		},
	}
}

// JSONMessage is the wire form handed to wallets: integer fields as decimal
// strings so nothing downstream touches bigints.
func (s *Signer) JSONMessage(msg Message) map[string]any {
	return map[string]any{
		"agreementId": msg.AgreementID,
		"partyA":      strings.ToLower(msg.PartyA.Hex()),
		"partyB":      strings.ToLower(msg.PartyB.Hex()),
		"equityAtoB":  msg.EquityAtoB.String(),
		"equityBtoA":  msg.EquityBtoA.String(),
		"termsHash":   msg.TermsHash.Hex(),
	}
}

// Hash is the digest a wallet signs: keccak256(0x1901 || domainSeparator ||
// hashStruct(message)).
func (s *Signer) Hash(msg Message) (common.Hash, error) {
	digest, _, err := apitypes.TypedDataAndHash(s.TypedData(msg))
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(digest), nil
}

// Sign produces a wallet-style 65-byte signature (v in {27,28}) over msg.
func (s *Signer) Sign(msg Message, key *ecdsa.PrivateKey) (string, error) {
	digest, err := s.Hash(msg)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Verify reports whether signatureHex is a valid signature over msg by
// claimedSigner, and claimedSigner is one of the two party addresses.
// It is a pure predicate: any mismatch or malformed input yields false.
func (s *Signer) Verify(msg Message, claimedSigner, signatureHex string) bool {
	claimed := strings.ToLower(strings.TrimSpace(claimedSigner))
	if claimed != strings.ToLower(msg.PartyA.Hex()) && claimed != strings.ToLower(msg.PartyB.Hex()) {
		return false
	}
	sig, err := hexutil.Decode(signatureHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return false
	}
	digest, err := s.Hash(msg)
	if err != nil {
		return false
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return strings.EqualFold(recovered.Hex(), claimed)
}
