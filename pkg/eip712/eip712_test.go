package eip712

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/polycentric-game/signet/pkg/domain"
)

func TestEncodeBasisPoints(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"10", 100000},
		{"12.5", 125000},
		{"2.5", 25000},
		{"33.3333", 333333},
		// Banker's rounding: ties go to the even integer.
		{"0.00005", 0},
		{"0.00015", 2},
		{"0.00025", 2},
	}
	for _, tc := range cases {
		got := EncodeBasisPoints(domain.MustPercent(tc.in))
		if got.Int64() != tc.want {
			t.Fatalf("EncodeBasisPoints(%s) = %s, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDecodeBasisPoints(t *testing.T) {
	p := DecodeBasisPoints(big.NewInt(125000))
	if !p.Equal(domain.MustPercent("12.5")) {
		t.Fatalf("DecodeBasisPoints(125000) = %s, want 12.5", p)
	}
}

func testMessage(partyA, partyB common.Address) Message {
	return Message{
		AgreementID: "agr_test1",
		PartyA:      partyA,
		PartyB:      partyB,
		EquityAtoB:  big.NewInt(100000),
		EquityBtoA:  big.NewInt(125000),
		TermsHash:   common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"),
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	keyA, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyB, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addrA := crypto.PubkeyToAddress(keyA.PublicKey)
	addrB := crypto.PubkeyToAddress(keyB.PublicKey)
	signer := NewSigner(31337)
	msg := testMessage(addrA, addrB)

	sig, err := signer.Sign(msg, keyA)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !signer.Verify(msg, addrA.Hex(), sig) {
		t.Fatalf("valid signature rejected")
	}

	// Claimed address comparison ignores checksum casing.
	if !signer.Verify(msg, strings.ToLower(addrA.Hex()), sig) {
		t.Fatalf("lowercase claimed address rejected")
	}
}

func TestVerifyRejectsTamperedTerms(t *testing.T) {
	keyA, _ := crypto.GenerateKey()
	keyB, _ := crypto.GenerateKey()
	addrA := crypto.PubkeyToAddress(keyA.PublicKey)
	addrB := crypto.PubkeyToAddress(keyB.PublicKey)
	signer := NewSigner(31337)
	msg := testMessage(addrA, addrB)

	sig, err := signer.Sign(msg, keyA)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := msg
	tampered.EquityAtoB = big.NewInt(999999)
	if signer.Verify(tampered, addrA.Hex(), sig) {
		t.Fatalf("signature accepted over changed terms")
	}

	tampered = msg
	tampered.TermsHash = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")
	if signer.Verify(tampered, addrA.Hex(), sig) {
		t.Fatalf("signature accepted over changed terms hash")
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	keyA, _ := crypto.GenerateKey()
	keyB, _ := crypto.GenerateKey()
	outsider, _ := crypto.GenerateKey()
	addrA := crypto.PubkeyToAddress(keyA.PublicKey)
	addrB := crypto.PubkeyToAddress(keyB.PublicKey)
	signer := NewSigner(31337)
	msg := testMessage(addrA, addrB)

	// Signed by B, claimed as A.
	sigB, err := signer.Sign(msg, keyB)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signer.Verify(msg, addrA.Hex(), sigB) {
		t.Fatalf("party B signature accepted as party A")
	}

	// Claimed signer is not a party at all.
	sigOut, err := signer.Sign(msg, outsider)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signer.Verify(msg, crypto.PubkeyToAddress(outsider.PublicKey).Hex(), sigOut) {
		t.Fatalf("non-party claimed signer accepted")
	}
}

func TestVerifyRejectsMalformedSignatures(t *testing.T) {
	keyA, _ := crypto.GenerateKey()
	keyB, _ := crypto.GenerateKey()
	addrA := crypto.PubkeyToAddress(keyA.PublicKey)
	addrB := crypto.PubkeyToAddress(keyB.PublicKey)
	signer := NewSigner(31337)
	msg := testMessage(addrA, addrB)

	for _, sig := range []string{"", "not-hex", "0x1234", "0x" + "00"} {
		if signer.Verify(msg, addrA.Hex(), sig) {
			t.Fatalf("malformed signature %q accepted", sig)
		}
	}
}

func TestHashDeterministic(t *testing.T) {
	keyA, _ := crypto.GenerateKey()
	keyB, _ := crypto.GenerateKey()
	signer := NewSigner(1)
	msg := testMessage(crypto.PubkeyToAddress(keyA.PublicKey), crypto.PubkeyToAddress(keyB.PublicKey))

	h1, err := signer.Hash(msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := signer.Hash(msg)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("typed-data hash unstable: %s vs %s", h1, h2)
	}
}

func TestMessageFromAgreementRequiresAddresses(t *testing.T) {
	ag := &domain.Agreement{
		ID: "agr_test1",
		Versions: []domain.AgreementVersion{{
			EquityFromCompanyA: domain.MustPercent("10"),
			EquityFromCompanyB: domain.MustPercent("12.5"),
		}},
	}
	if _, err := MessageFromAgreement(ag); err == nil {
		t.Fatalf("expected error without party addresses")
	}

	ag.PartyAAddress = "0x1111111111111111111111111111111111111111"
	ag.PartyBAddress = "0x2222222222222222222222222222222222222222"
	msg, err := MessageFromAgreement(ag)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if msg.EquityAtoB.Int64() != 100000 || msg.EquityBtoA.Int64() != 125000 {
		t.Fatalf("basis points = %s / %s", msg.EquityAtoB, msg.EquityBtoA)
	}
}
