// Package domain holds the entities shared by the agreement state machine,
// the typed-data signer and the credential pipeline.
package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

// Founder is a party profile. EthereumAddress is the linked wallet record,
// stored lowercase. EquitySwapped only grows, and only via the approval
// commit in the state machine.
type Founder struct {
	ID                   string    `json:"id"`
	FounderName          string    `json:"founderName"`
	CompanyName          string    `json:"companyName"`
	EthereumAddress      string    `json:"ethereumAddress,omitempty"`
	TotalEquityAvailable Percent   `json:"totalEquityAvailable"`
	EquitySwapped        Percent   `json:"equitySwapped"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func (f *Founder) Clone() *Founder {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

type AgreementStatus string

const (
	StatusProposed  AgreementStatus = "proposed"
	StatusRevised   AgreementStatus = "revised"
	StatusApproved  AgreementStatus = "approved"
	StatusCompleted AgreementStatus = "completed"
)

// AgreementVersion is one proposed term set. Immutable once created except
// for ApprovedBy and Signatures, which only grow while the owning agreement
// is not completed.
type AgreementVersion struct {
	VersionNumber      int               `json:"versionNumber"`
	EquityFromCompanyA Percent           `json:"equityFromCompanyA"`
	EquityFromCompanyB Percent           `json:"equityFromCompanyB"`
	Notes              string            `json:"notes"`
	ProposedBy         string            `json:"proposedBy"`
	ProposedAt         time.Time         `json:"proposedAt"`
	ApprovedBy         []string          `json:"approvedBy"`
	Signatures         map[string]string `json:"signatures,omitempty"`
}

func (v *AgreementVersion) HasApproved(founderID string) bool {
	for _, id := range v.ApprovedBy {
		if id == founderID {
			return true
		}
	}
	return false
}

func (v *AgreementVersion) SignatureOf(founderID string) string {
	if v.Signatures == nil {
		return ""
	}
	return v.Signatures[founderID]
}

func (v *AgreementVersion) clone() AgreementVersion {
	c := *v
	c.ApprovedBy = append([]string(nil), v.ApprovedBy...)
	if v.Signatures != nil {
		c.Signatures = make(map[string]string, len(v.Signatures))
		for k, s := range v.Signatures {
			c.Signatures[k] = s
		}
	}
	return c
}

// Agreement is the aggregate root of one bilateral equity swap.
//
// ApprovedBy/Signatures on a version are keyed by founder id, while
// SigA/SigB are keyed by fixed party slot (whichever address matches
// PartyAAddress/PartyBAddress). The two maps are deliberately kept
// separate.
type Agreement struct {
	ID             string             `json:"id"`
	FounderAID     string             `json:"founderAId"`
	FounderBID     string             `json:"founderBId"`
	Status         AgreementStatus    `json:"status"`
	InitiatedBy    string             `json:"initiatedBy"`
	LastRevisedBy  string             `json:"lastRevisedBy"`
	CurrentVersion int                `json:"currentVersion"`
	Versions       []AgreementVersion `json:"versions"`

	// Signing and credential fields, populated lazily.
	PartyAAddress      string     `json:"partyAAddress,omitempty"`
	PartyBAddress      string     `json:"partyBAddress,omitempty"`
	CanonicalTermsJSON string     `json:"canonicalTermsJson,omitempty"`
	TermsHash          string     `json:"termsHash,omitempty"`
	SigA               string     `json:"sigA,omitempty"`
	SigB               string     `json:"sigB,omitempty"`
	FinalizedAt        *time.Time `json:"finalizedAt,omitempty"`
	VCJWT              string     `json:"vcJwt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (a *Agreement) IsParty(founderID string) bool {
	return founderID == a.FounderAID || founderID == a.FounderBID
}

// Current returns the version under negotiation, or nil when CurrentVersion
// is out of range.
func (a *Agreement) Current() *AgreementVersion {
	if a.CurrentVersion < 0 || a.CurrentVersion >= len(a.Versions) {
		return nil
	}
	return &a.Versions[a.CurrentVersion]
}

// FounderBySlotAddress maps a lowercase party address to the founder id
// occupying that slot. Second return is false when the address is not a
// party.
func (a *Agreement) FounderBySlotAddress(address string) (string, bool) {
	switch strings.ToLower(address) {
	case a.PartyAAddress:
		return a.FounderAID, a.PartyAAddress != ""
	case a.PartyBAddress:
		return a.FounderBID, a.PartyBAddress != ""
	}
	return "", false
}

// SlotSignature returns the party-slot signature for a founder id.
func (a *Agreement) SlotSignature(founderID string) string {
	if founderID == a.FounderAID {
		return a.SigA
	}
	if founderID == a.FounderBID {
		return a.SigB
	}
	return ""
}

// SetSlotSignature records a signature under the founder's fixed party slot.
func (a *Agreement) SetSlotSignature(founderID, signature string) {
	if founderID == a.FounderAID {
		a.SigA = signature
	} else if founderID == a.FounderBID {
		a.SigB = signature
	}
}

func (a *Agreement) FullySigned() bool { return a.SigA != "" && a.SigB != "" }

func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	c := *a
	c.Versions = make([]AgreementVersion, len(a.Versions))
	for i := range a.Versions {
		c.Versions[i] = a.Versions[i].clone()
	}
	if a.FinalizedAt != nil {
		t := *a.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}
