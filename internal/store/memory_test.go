package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polycentric-game/signet/pkg/domain"
)

func TestMemoryNotFound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.GetAgreement(ctx, "agr_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := m.GetFounder(ctx, "fnd_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryIsolatesCallers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	ag := &domain.Agreement{
		ID:         "agr_1",
		FounderAID: "fnd_a",
		FounderBID: "fnd_b",
		Status:     domain.StatusProposed,
		CreatedAt:  now,
		Versions: []domain.AgreementVersion{{
			VersionNumber: 0,
			ApprovedBy:    []string{"fnd_a"},
		}},
	}
	if err := m.SaveAgreement(ctx, ag); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the caller's copy after save must not leak into the store.
	ag.Status = domain.StatusCompleted
	ag.Versions[0].ApprovedBy = append(ag.Versions[0].ApprovedBy, "fnd_b")

	got, err := m.GetAgreement(ctx, "agr_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusProposed {
		t.Fatalf("status leaked: %s", got.Status)
	}
	if len(got.Versions[0].ApprovedBy) != 1 {
		t.Fatalf("approvals leaked: %v", got.Versions[0].ApprovedBy)
	}

	// Mutating a read copy must not affect later reads.
	got.Versions[0].Signatures = map[string]string{"fnd_a": "0xsig"}
	again, _ := m.GetAgreement(ctx, "agr_1")
	if again.Versions[0].Signatures != nil {
		t.Fatalf("signatures leaked: %v", again.Versions[0].Signatures)
	}
}

func TestMemoryUpsert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	f := &domain.Founder{ID: "fnd_a", CompanyName: "Acme", TotalEquityAvailable: domain.MustPercent("100")}
	if err := m.SaveFounder(ctx, f); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.EquitySwapped = domain.MustPercent("25")
	if err := m.SaveFounder(ctx, f); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := m.GetFounder(ctx, "fnd_a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.EquitySwapped.Equal(domain.MustPercent("25")) {
		t.Fatalf("swapped = %s, want 25", got.EquitySwapped)
	}
}
