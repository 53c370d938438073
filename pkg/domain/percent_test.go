package domain

import (
	"encoding/json"
	"testing"
)

func TestPercentMarshalsAsBareNumber(t *testing.T) {
	b, err := json.Marshal(MustPercent("12.5"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "12.5" {
		t.Fatalf("marshal = %s, want 12.5", b)
	}
}

func TestPercentUnmarshal(t *testing.T) {
	var p Percent
	if err := json.Unmarshal([]byte("7.25"), &p); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if !p.Equal(MustPercent("7.25")) {
		t.Fatalf("got %s, want 7.25", p)
	}
	if err := json.Unmarshal([]byte(`"33.3333"`), &p); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if !p.Equal(MustPercent("33.3333")) {
		t.Fatalf("got %s, want 33.3333", p)
	}
}

func TestPercentArithmetic(t *testing.T) {
	total := MustPercent("100")
	swapped := MustPercent("60")
	if got := total.Sub(swapped); !got.Equal(MustPercent("40")) {
		t.Fatalf("sub = %s, want 40", got)
	}
	if got := swapped.Add(MustPercent("15")); !got.Equal(MustPercent("75")) {
		t.Fatalf("add = %s, want 75", got)
	}
	if !MustPercent("50.0001").GreaterThan(MustPercent("50")) {
		t.Fatalf("comparison broken")
	}
}

func TestAgreementRoundTripKeepsSlots(t *testing.T) {
	ag := Agreement{
		ID:            "agr_1",
		FounderAID:    "fnd_a",
		FounderBID:    "fnd_b",
		Status:        StatusProposed,
		PartyAAddress: "0x1111111111111111111111111111111111111111",
		SigA:          "0xaaaa",
		Versions: []AgreementVersion{{
			EquityFromCompanyA: MustPercent("10"),
			EquityFromCompanyB: MustPercent("12.5"),
			Signatures:         map[string]string{"fnd_a": "0xaaaa"},
		}},
	}
	b, err := json.Marshal(ag)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Agreement
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.SigA != ag.SigA || back.Versions[0].SignatureOf("fnd_a") != "0xaaaa" {
		t.Fatalf("signature bookkeeping lost: %+v", back)
	}
	if !back.Versions[0].EquityFromCompanyB.Equal(MustPercent("12.5")) {
		t.Fatalf("equity lost: %s", back.Versions[0].EquityFromCompanyB)
	}
}
