package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polycentric-game/signet/pkg/domain"
)

type Postgres struct{ DB *pgxpool.Pool }

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{DB: db} }

const schema = `
CREATE TABLE IF NOT EXISTS signet_founders (
	founder_id             text PRIMARY KEY,
	founder_name           text NOT NULL,
	company_name           text NOT NULL,
	ethereum_address       text NOT NULL DEFAULT '',
	total_equity_available text NOT NULL,
	equity_swapped         text NOT NULL,
	created_at             timestamptz NOT NULL,
	updated_at             timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS signet_agreements (
	agreement_id         text PRIMARY KEY,
	founder_a_id         text NOT NULL REFERENCES signet_founders(founder_id),
	founder_b_id         text NOT NULL REFERENCES signet_founders(founder_id),
	status               text NOT NULL,
	initiated_by         text NOT NULL,
	last_revised_by      text NOT NULL,
	current_version      int NOT NULL,
	versions             jsonb NOT NULL,
	party_a_address      text NOT NULL DEFAULT '',
	party_b_address      text NOT NULL DEFAULT '',
	canonical_terms_json text NOT NULL DEFAULT '',
	terms_hash           text NOT NULL DEFAULT '',
	sig_a                text NOT NULL DEFAULT '',
	sig_b                text NOT NULL DEFAULT '',
	finalized_at         timestamptz,
	vc_jwt               text NOT NULL DEFAULT '',
	created_at           timestamptz NOT NULL,
	updated_at           timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS signet_agreements_founder_a_idx ON signet_agreements(founder_a_id);
CREATE INDEX IF NOT EXISTS signet_agreements_founder_b_idx ON signet_agreements(founder_b_id);
`

// Migrate applies the schema. Idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}

func (s *Postgres) GetFounder(ctx context.Context, id string) (*domain.Founder, error) {
	var (
		f             domain.Founder
		totalEquity   string
		equitySwapped string
	)
	err := s.DB.QueryRow(ctx, `
SELECT founder_id,founder_name,company_name,ethereum_address,total_equity_available,equity_swapped,created_at,updated_at
FROM signet_founders WHERE founder_id=$1
`, id).Scan(&f.ID, &f.FounderName, &f.CompanyName, &f.EthereumAddress, &totalEquity, &equitySwapped, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if f.TotalEquityAvailable, err = domain.PercentFromString(totalEquity); err != nil {
		return nil, err
	}
	if f.EquitySwapped, err = domain.PercentFromString(equitySwapped); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Postgres) SaveFounder(ctx context.Context, f *domain.Founder) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO signet_founders(founder_id,founder_name,company_name,ethereum_address,total_equity_available,equity_swapped,created_at,updated_at)
VALUES($1,$2,$3,lower($4),$5,$6,$7,$8)
ON CONFLICT (founder_id) DO UPDATE SET
	founder_name=EXCLUDED.founder_name,
	company_name=EXCLUDED.company_name,
	ethereum_address=EXCLUDED.ethereum_address,
	total_equity_available=EXCLUDED.total_equity_available,
	equity_swapped=EXCLUDED.equity_swapped,
	updated_at=EXCLUDED.updated_at
`, f.ID, f.FounderName, f.CompanyName, f.EthereumAddress,
		f.TotalEquityAvailable.String(), f.EquitySwapped.String(), f.CreatedAt, f.UpdatedAt)
	return err
}

const agreementColumns = `agreement_id,founder_a_id,founder_b_id,status,initiated_by,last_revised_by,current_version,versions,
	party_a_address,party_b_address,canonical_terms_json,terms_hash,sig_a,sig_b,finalized_at,vc_jwt,created_at,updated_at`

func scanAgreement(row pgx.Row) (*domain.Agreement, error) {
	var (
		ag          domain.Agreement
		versions    []byte
		finalizedAt *time.Time
	)
	err := row.Scan(&ag.ID, &ag.FounderAID, &ag.FounderBID, &ag.Status, &ag.InitiatedBy, &ag.LastRevisedBy,
		&ag.CurrentVersion, &versions, &ag.PartyAAddress, &ag.PartyBAddress, &ag.CanonicalTermsJSON,
		&ag.TermsHash, &ag.SigA, &ag.SigB, &finalizedAt, &ag.VCJWT, &ag.CreatedAt, &ag.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(versions, &ag.Versions); err != nil {
		return nil, err
	}
	ag.FinalizedAt = finalizedAt
	return &ag, nil
}

func (s *Postgres) GetAgreement(ctx context.Context, id string) (*domain.Agreement, error) {
	ag, err := scanAgreement(s.DB.QueryRow(ctx,
		`SELECT `+agreementColumns+` FROM signet_agreements WHERE agreement_id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return ag, nil
}

func (s *Postgres) ListAgreementsByFounder(ctx context.Context, founderID string) ([]*domain.Agreement, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT `+agreementColumns+` FROM signet_agreements
WHERE founder_a_id=$1 OR founder_b_id=$1 ORDER BY created_at, agreement_id`, founderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Agreement
	for rows.Next() {
		ag, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ag)
	}
	return out, rows.Err()
}

func (s *Postgres) SaveAgreement(ctx context.Context, ag *domain.Agreement) error {
	versions, err := json.Marshal(ag.Versions)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO signet_agreements(agreement_id,founder_a_id,founder_b_id,status,initiated_by,last_revised_by,current_version,versions,
	party_a_address,party_b_address,canonical_terms_json,terms_hash,sig_a,sig_b,finalized_at,vc_jwt,created_at,updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (agreement_id) DO UPDATE SET
	status=EXCLUDED.status,
	last_revised_by=EXCLUDED.last_revised_by,
	current_version=EXCLUDED.current_version,
	versions=EXCLUDED.versions,
	party_a_address=EXCLUDED.party_a_address,
	party_b_address=EXCLUDED.party_b_address,
	canonical_terms_json=EXCLUDED.canonical_terms_json,
	terms_hash=EXCLUDED.terms_hash,
	sig_a=EXCLUDED.sig_a,
	sig_b=EXCLUDED.sig_b,
	finalized_at=EXCLUDED.finalized_at,
	vc_jwt=EXCLUDED.vc_jwt,
	updated_at=EXCLUDED.updated_at
`, ag.ID, ag.FounderAID, ag.FounderBID, ag.Status, ag.InitiatedBy, ag.LastRevisedBy, ag.CurrentVersion,
		string(versions), ag.PartyAAddress, ag.PartyBAddress, ag.CanonicalTermsJSON, ag.TermsHash,
		ag.SigA, ag.SigB, ag.FinalizedAt, ag.VCJWT, ag.CreatedAt, ag.UpdatedAt)
	return err
}
