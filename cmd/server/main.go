package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/polycentric-game/signet/internal/agreement"
	"github.com/polycentric-game/signet/internal/config"
	"github.com/polycentric-game/signet/internal/metrics"
	"github.com/polycentric-game/signet/internal/store"
	"github.com/polycentric-game/signet/pkg/db"
	"github.com/polycentric-game/signet/pkg/domain"
	"github.com/polycentric-game/signet/pkg/eip712"
	"github.com/polycentric-game/signet/pkg/httpx"
	"github.com/polycentric-game/signet/pkg/vc"
	"github.com/polycentric-game/signet/pkg/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}
	log := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	st := store.NewPostgres(pool)
	if err := st.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	signer := eip712.NewSigner(cfg.ChainID)

	var issuer *vc.Issuer
	if issuer, err = vc.NewIssuer(cfg.IssuerPrivateKey, cfg.ChainID); err != nil {
		if !errors.Is(err, vc.ErrKeyNotConfigured) {
			log.Fatal().Err(err).Msg("issuer key rejected")
		}
		log.Warn().Msg("issuer key not configured, credential issuance disabled")
		issuer = nil
	}

	svcOpts := []agreement.Option{
		agreement.WithIssuer(issuer),
		agreement.WithLogger(log),
		agreement.RequireSignatures(cfg.RequireSignatures),
	}
	if cfg.WebhookURL != "" {
		notifier, err := webhooks.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("webhook configuration rejected")
		}
		svcOpts = append(svcOpts, agreement.WithNotifier(notifier))
	}
	svc := agreement.NewService(st, signer, svcOpts...)
	m := metrics.New()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/founders", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FounderName          string         `json:"founderName"`
			CompanyName          string         `json:"companyName"`
			EthereumAddress      string         `json:"ethereumAddress"`
			TotalEquityAvailable domain.Percent `json:"totalEquityAvailable"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		now := time.Now().UTC()
		f := &domain.Founder{
			ID:                   "fnd_" + uuid.NewString(),
			FounderName:          req.FounderName,
			CompanyName:          req.CompanyName,
			EthereumAddress:      req.EthereumAddress,
			TotalEquityAvailable: req.TotalEquityAvailable,
			EquitySwapped:        domain.PercentFromInt(0),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := st.SaveFounder(r.Context(), f); err != nil {
			httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "founder": f})
	})

	r.Get("/founders/{founder_id}", func(w http.ResponseWriter, r *http.Request) {
		f, err := st.GetFounder(r.Context(), chi.URLParam(r, "founder_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "founder": f})
	})

	r.Get("/founders/{founder_id}/agreements", func(w http.ResponseWriter, r *http.Request) {
		ags, err := svc.ListByFounder(r.Context(), chi.URLParam(r, "founder_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if ags == nil {
			ags = []*domain.Agreement{}
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "agreements": ags})
	})

	r.Post("/agreements", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FounderAID  string         `json:"founderAId"`
			FounderBID  string         `json:"founderBId"`
			EquityFromA domain.Percent `json:"equityFromA"`
			EquityFromB domain.Percent `json:"equityFromB"`
			Notes       string         `json:"notes"`
			ProposerID  string         `json:"proposerId"`
			Signature   string         `json:"signature"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		ag, err := svc.Create(r.Context(), agreement.CreateInput{
			FounderAID:  req.FounderAID,
			FounderBID:  req.FounderBID,
			EquityFromA: req.EquityFromA,
			EquityFromB: req.EquityFromB,
			Notes:       req.Notes,
			ProposerID:  req.ProposerID,
			Signature:   req.Signature,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		m.AgreementsCreated.Inc()
		httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "agreement": ag})
	})

	r.Get("/agreements/{agreement_id}", func(w http.ResponseWriter, r *http.Request) {
		ag, err := svc.Get(r.Context(), chi.URLParam(r, "agreement_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "agreement": ag})
	})

	r.Post("/agreements/{agreement_id}/revisions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EquityFromA domain.Percent `json:"equityFromA"`
			EquityFromB domain.Percent `json:"equityFromB"`
			Notes       string         `json:"notes"`
			ProposerID  string         `json:"proposerId"`
			Signature   string         `json:"signature"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		ag, err := svc.ProposeRevision(r.Context(), chi.URLParam(r, "agreement_id"), agreement.ReviseInput{
			EquityFromA: req.EquityFromA,
			EquityFromB: req.EquityFromB,
			Notes:       req.Notes,
			ProposerID:  req.ProposerID,
			Signature:   req.Signature,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		m.RevisionsProposed.Inc()
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "agreement": ag})
	})

	r.Post("/agreements/{agreement_id}/approve", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FounderID string `json:"founderId"`
			Signature string `json:"signature"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		ag, err := svc.Approve(r.Context(), chi.URLParam(r, "agreement_id"), req.FounderID, req.Signature)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		m.Approvals.Inc()
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "agreement": ag})
	})

	r.Post("/agreements/{agreement_id}/complete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FounderID string `json:"founderId"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		ag, err := svc.Complete(r.Context(), chi.URLParam(r, "agreement_id"), req.FounderID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "agreement": ag})
	})

	r.Get("/agreements/{agreement_id}/eip712", func(w http.ResponseWriter, r *http.Request) {
		addr, ok := walletAddress(w, r)
		if !ok {
			return
		}
		payload, err := svc.BuildSigningPayload(r.Context(), chi.URLParam(r, "agreement_id"), addr)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, payload)
	})

	r.Post("/agreements/{agreement_id}/sign", func(w http.ResponseWriter, r *http.Request) {
		addr, ok := walletAddress(w, r)
		if !ok {
			return
		}
		var req struct {
			Signature string `json:"signature"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		if req.Signature == "" {
			httpx.WriteError(w, 400, "SIGNATURE_REQUIRED", "signature is required", nil)
			return
		}
		ag, finalized, err := svc.SubmitSignature(r.Context(), chi.URLParam(r, "agreement_id"), addr, req.Signature)
		if err != nil {
			if errors.Is(err, agreement.ErrInvalidSignature) {
				m.SignaturesVerified.WithLabelValues("invalid").Inc()
			}
			writeServiceError(w, err)
			return
		}
		m.SignaturesVerified.WithLabelValues("valid").Inc()
		if finalized {
			m.Finalizations.Inc()
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id":  httpx.NewRequestID(),
			"agreement":   ag,
			"isFinalized": ag.FinalizedAt != nil,
		})
	})

	r.Get("/agreements/{agreement_id}/credential", func(w http.ResponseWriter, r *http.Request) {
		addr, ok := walletAddress(w, r)
		if !ok {
			return
		}
		agreementID := chi.URLParam(r, "agreement_id")
		token, err := svc.Credential(r.Context(), agreementID, addr)
		if err != nil {
			if !errors.Is(err, agreement.ErrNotFullySigned) &&
				!errors.Is(err, domain.ErrNotFound) && !errors.Is(err, agreement.ErrNotParty) {
				m.CredentialFailures.Inc()
			}
			writeServiceError(w, err)
			return
		}
		m.CredentialsIssued.Inc()
		resp := map[string]any{
			"request_id":  httpx.NewRequestID(),
			"agreementId": agreementID,
			"vcJwt":       token,
		}
		if payload, err := vc.DecodePayload(token); err == nil {
			resp["payload"] = payload
		}
		httpx.WriteJSON(w, 200, resp)
	})

	r.Post("/credentials/verify", func(w http.ResponseWriter, r *http.Request) {
		if issuer == nil {
			httpx.WriteError(w, 500, "ISSUER_NOT_CONFIGURED", vc.ErrKeyNotConfigured.Error(), nil)
			return
		}
		var req struct {
			VCJWT       string `json:"vcJwt"`
			AgreementID string `json:"agreementId"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		verifier := vc.NewVerifier(issuer.Address(), cfg.ChainID)
		var result vc.Result
		if req.AgreementID != "" {
			if ag, err := svc.Get(r.Context(), req.AgreementID); err == nil {
				result = verifier.VerifyWithAgreement(req.VCJWT, ag, signer)
			} else {
				result = verifier.Verify(req.VCJWT)
			}
		} else {
			result = verifier.Verify(req.VCJWT)
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "result": result})
	})

	log.Info().Str("addr", cfg.ListenAddr).Int64("chain_id", cfg.ChainID).
		Bool("signing_enforced", cfg.RequireSignatures).Msg("signet server listening")
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout)
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Str("service", "signet").Logger()
}

// walletAddress reads the out-of-band authenticated requester address.
func walletAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr := r.Header.Get("X-Wallet-Address")
	if addr == "" {
		httpx.WriteError(w, 401, "WALLET_REQUIRED", "X-Wallet-Address header is required", nil)
		return "", false
	}
	return addr, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		httpx.WriteError(w, 400, "VALIDATION_FAILED", verrs.Error(), verrs)
		return
	}
	var missing *agreement.MissingSignatureError
	if errors.As(err, &missing) {
		httpx.WriteError(w, 409, "NOT_FULLY_SIGNED", missing.Error(), map[string]any{"missing": missing.Missing})
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, agreement.ErrNotParty):
		httpx.WriteError(w, 403, "NOT_AUTHORIZED", err.Error(), nil)
	case errors.Is(err, agreement.ErrInvalidSignature):
		httpx.WriteError(w, 400, "INVALID_SIGNATURE", err.Error(), nil)
	case errors.Is(err, agreement.ErrSignatureRequired):
		httpx.WriteError(w, 400, "SIGNATURE_REQUIRED", err.Error(), nil)
	case errors.Is(err, agreement.ErrAlreadyApproved):
		httpx.WriteError(w, 409, "ALREADY_APPROVED", err.Error(), nil)
	case errors.Is(err, agreement.ErrCompleted):
		httpx.WriteError(w, 409, "AGREEMENT_COMPLETED", err.Error(), nil)
	case errors.Is(err, agreement.ErrNotApproved):
		httpx.WriteError(w, 409, "NOT_APPROVED", err.Error(), nil)
	case errors.Is(err, agreement.ErrNotFullySigned):
		httpx.WriteError(w, 409, "NOT_FULLY_SIGNED", err.Error(), nil)
	case errors.Is(err, agreement.ErrNoCurrentVersion):
		httpx.WriteError(w, 409, "NO_CURRENT_VERSION", err.Error(), nil)
	case errors.Is(err, eip712.ErrPartyAddressMissing):
		httpx.WriteError(w, 409, "PARTY_ADDRESS_MISSING", err.Error(), nil)
	case errors.Is(err, vc.ErrKeyNotConfigured):
		httpx.WriteError(w, 500, "ISSUER_NOT_CONFIGURED", err.Error(), nil)
	default:
		httpx.WriteError(w, 500, "INTERNAL", err.Error(), nil)
	}
}
