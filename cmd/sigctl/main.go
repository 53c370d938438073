// sigctl is the operator and wallet-side companion tool: it generates
// party keys, signs the typed-data payload served by the agreement API,
// and verifies issued credential tokens offline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/polycentric-game/signet/pkg/eip712"
	"github.com/polycentric-game/signet/pkg/vc"
)

const usage = "usage: sigctl keygen | sigctl sign --key <hex> --payload <path> | sigctl vc verify --token <path> --issuer <address> --chain-id <n>"

func main() {
	if len(os.Args) < 2 {
		failSummary(usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "keygen":
		runKeygen()
	case "sign":
		runSign(os.Args[2:])
	case "vc":
		if len(os.Args) < 3 || os.Args[2] != "verify" {
			failSummary(usage)
			os.Exit(2)
		}
		runVCVerify(os.Args[3:])
	default:
		failSummary(usage)
		os.Exit(2)
	}
}

func runKeygen() {
	key, err := crypto.GenerateKey()
	if err != nil {
		failSummary("key generation failed: " + err.Error())
		os.Exit(1)
	}
	printJSON(map[string]any{
		"status":        "PASS",
		"address":       strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		"privateKey":    hexutil.Encode(crypto.FromECDSA(key)),
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	})
}

// signingPayload mirrors the body of GET /agreements/{id}/eip712. Only the
// fields needed to rebuild the message are decoded; the type definitions
// are fixed by the protocol.
type signingPayload struct {
	Domain struct {
		ChainId *math.HexOrDecimal256 `json:"chainId"`
	} `json:"domain"`
	PrimaryType string            `json:"primaryType"`
	Message     map[string]string `json:"message"`
}

func runSign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	keyHex := fs.String("key", "", "signer private key hex")
	payloadPath := fs.String("payload", "", "path to the typed-data payload json served by the API")
	if err := fs.Parse(args); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*keyHex) == "" || strings.TrimSpace(*payloadPath) == "" {
		failSummary("both --key and --payload are required")
		os.Exit(2)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(*keyHex), "0x"))
	if err != nil {
		failSummary("bad private key: " + err.Error())
		os.Exit(1)
	}
	raw, err := os.ReadFile(*payloadPath)
	if err != nil {
		failSummary("read payload failed: " + err.Error())
		os.Exit(1)
	}
	var payload signingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		failSummary("decode payload failed: " + err.Error())
		os.Exit(1)
	}
	if payload.PrimaryType != eip712.PrimaryType {
		failSummary("unexpected primary type: " + payload.PrimaryType)
		os.Exit(1)
	}
	msg, err := messageFromPayload(payload.Message)
	if err != nil {
		failSummary(err.Error())
		os.Exit(1)
	}

	chainID := int64(1)
	if payload.Domain.ChainId != nil {
		chainID = (*big.Int)(payload.Domain.ChainId).Int64()
	}
	signer := eip712.NewSigner(chainID)
	sig, err := signer.Sign(msg, key)
	if err != nil {
		failSummary("sign failed: " + err.Error())
		os.Exit(1)
	}
	printJSON(map[string]any{
		"status":        "PASS",
		"agreement_id":  msg.AgreementID,
		"signer":        strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		"signature":     sig,
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	})
}

func messageFromPayload(m map[string]string) (eip712.Message, error) {
	for _, field := range []string{"agreementId", "partyA", "partyB", "equityAtoB", "equityBtoA", "termsHash"} {
		if strings.TrimSpace(m[field]) == "" {
			return eip712.Message{}, fmt.Errorf("payload message is missing %s", field)
		}
	}
	equityAtoB, ok := new(big.Int).SetString(m["equityAtoB"], 10)
	if !ok {
		return eip712.Message{}, fmt.Errorf("bad equityAtoB: %s", m["equityAtoB"])
	}
	equityBtoA, ok := new(big.Int).SetString(m["equityBtoA"], 10)
	if !ok {
		return eip712.Message{}, fmt.Errorf("bad equityBtoA: %s", m["equityBtoA"])
	}
	return eip712.Message{
		AgreementID: m["agreementId"],
		PartyA:      common.HexToAddress(m["partyA"]),
		PartyB:      common.HexToAddress(m["partyB"]),
		EquityAtoB:  equityAtoB,
		EquityBtoA:  equityBtoA,
		TermsHash:   common.HexToHash(m["termsHash"]),
	}, nil
}

func runVCVerify(args []string) {
	fs := flag.NewFlagSet("vc verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	tokenPath := fs.String("token", "", "path to the credential JWT")
	issuerAddr := fs.String("issuer", "", "expected issuer ethereum address")
	chainID := fs.Int64("chain-id", 1, "chain id of the issuer DID")
	if err := fs.Parse(args); err != nil {
		failSummary(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*tokenPath) == "" || strings.TrimSpace(*issuerAddr) == "" {
		failSummary("both --token and --issuer are required")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*tokenPath)
	if err != nil {
		failSummary("read token failed: " + err.Error())
		os.Exit(1)
	}
	token := strings.TrimSpace(string(raw))

	verifier := vc.NewVerifier(common.HexToAddress(*issuerAddr), *chainID)
	result := verifier.Verify(token)

	out := map[string]any{
		"status":        "FAIL",
		"issuer_did":    result.IssuerDID,
		"errors":        result.Errors,
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	}
	if result.Payload != nil {
		out["agreement_id"] = result.Payload.VC.CredentialSubject.AgreementID
		out["agreement_hash"] = result.Payload.VC.CredentialSubject.AgreementHash
	}
	if result.IsValid {
		out["status"] = "PASS"
		printJSON(out)
		return
	}
	printJSON(out)
	os.Exit(1)
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

func failSummary(reason string) {
	printJSON(map[string]any{
		"status":        "FAIL",
		"reason":        reason,
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	})
}
