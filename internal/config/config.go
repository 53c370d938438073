// Package config loads service configuration from SIGNET_-prefixed
// environment variables.
package config

import "github.com/kelseyhightower/envconfig"

type Config struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// IssuerPrivateKey is the hex secp256k1 key the credential issuer
	// signs with. Leaving it unset disables issuance; the credential
	// surfaces then report a configuration error, not a crypto one.
	IssuerPrivateKey string `envconfig:"ISSUER_PRIVATE_KEY"`

	// ChainID parameterizes the EIP-712 domain and did:pkh identifiers.
	ChainID int64 `envconfig:"CHAIN_ID" default:"1"`

	// RequireSignatures gates create/revise/approve on verified
	// typed-data signatures. Off, parties negotiate first and sign
	// through the signature surface afterwards.
	RequireSignatures bool `envconfig:"REQUIRE_SIGNATURES" default:"false"`

	// Outbound lifecycle webhooks are enabled when both are set.
	WebhookURL    string `envconfig:"WEBHOOK_URL"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

func Load() (Config, error) {
	var cfg Config
	err := envconfig.Process("signet", &cfg)
	return cfg, err
}
