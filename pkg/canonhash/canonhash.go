// Package canonhash produces the deterministic terms serialization whose
// keccak256 digest binds party signatures and issued credentials to one
// exact term set.
package canonhash

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/polycentric-game/signet/pkg/domain"
)

// Terms is the flat canonical view of one agreement version. Field order
// matches lexicographic key order; adding, renaming or reordering a field
// is a breaking schema change that invalidates every issued hash.
type Terms struct {
	AgreementID string         `json:"agreementId"`
	CreatedAt   string         `json:"createdAt"`
	EquityAtoB  domain.Percent `json:"equityAtoB"`
	EquityBtoA  domain.Percent `json:"equityBtoA"`
	Notes       string         `json:"notes"`
	PartyA      string         `json:"partyA"`
	PartyB      string         `json:"partyB"`
	Version     int            `json:"version"`
}

// TermsForVersion builds the canonical view for one version. partyA/partyB
// are the resolved wallet addresses; they are lowercased here.
func TermsForVersion(ag *domain.Agreement, v *domain.AgreementVersion, partyA, partyB string) Terms {
	return Terms{
		AgreementID: ag.ID,
		CreatedAt:   ag.CreatedAt.UTC().Format(time.RFC3339Nano),
		EquityAtoB:  v.EquityFromCompanyA,
		EquityBtoA:  v.EquityFromCompanyB,
		Notes:       v.Notes,
		PartyA:      strings.ToLower(partyA),
		PartyB:      strings.ToLower(partyB),
		Version:     v.VersionNumber,
	}
}

// Canonicalize serializes terms as JSON with lexicographically sorted keys.
func Canonicalize(t Terms) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash is the keccak256 digest of the canonical JSON's UTF-8 bytes.
func Hash(canonicalJSON string) common.Hash {
	return crypto.Keccak256Hash([]byte(canonicalJSON))
}

// HashHex renders the digest the way it crosses API and credential
// boundaries: 0x-prefixed lowercase hex.
func HashHex(canonicalJSON string) string {
	return Hash(canonicalJSON).Hex()
}
