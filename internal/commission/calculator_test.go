package commission

import (
	"context"
	"errors"
	"testing"
	"time"

	"adledger/internal/apperr"
	"adledger/internal/audit"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCompute(t *testing.T) {
	cases := []struct {
		amount, rate, want string
	}{
		{"200.00", "5", "10.00"},
		{"100.00", "0", "0"},
		{"100.00", "-3", "0"},
		{"100.00", "100", "100.00"},
		// 0.125 rounds half-up to 0.13
		{"2.50", "5", "0.13"},
		{"33.33", "1.5", "0.50"},
		{"10.01", "12.5", "1.25"},
	}
	for _, tc := range cases {
		got, err := Compute(d(tc.amount), d(tc.rate))
		if err != nil {
			t.Fatalf("Compute(%s, %s): %v", tc.amount, tc.rate, err)
		}
		if !got.Equal(d(tc.want)) {
			t.Fatalf("Compute(%s, %s) = %s, want %s", tc.amount, tc.rate, got, tc.want)
		}
	}
}

func TestCompute_RejectsRateAboveHundred(t *testing.T) {
	_, err := Compute(d("10"), d("100.01"))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSplit(t *testing.T) {
	fee, net, err := Split(d("200.00"), d("5"))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !fee.Equal(d("10")) || !net.Equal(d("190")) {
		t.Fatalf("unexpected split fee=%s net=%s", fee, net)
	}
}

func TestSchedule_PrefersMostRecentEffectiveRate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := base.Add(48 * time.Hour)
	repo := &MemoryRepo{Rates: []Rate{
		{TenantID: "agency-1", Percent: d("3"), EffectiveFrom: base, Status: RateStatusActive},
		{TenantID: "agency-1", Percent: d("4"), EffectiveFrom: base.Add(24 * time.Hour), EffectiveTo: &end, Status: RateStatusActive},
		{TenantID: "agency-1", Percent: d("9"), EffectiveFrom: base.Add(30 * time.Hour), Status: RateStatusInactive},
		{TenantID: "agency-2", Percent: d("7"), EffectiveFrom: base, Status: RateStatusActive},
	}}
	s := NewSchedule(repo, d("5"))

	check := func(tenant string, at time.Time, want string) {
		t.Helper()
		got, err := s.Rate(context.Background(), tenant, at)
		if err != nil {
			t.Fatalf("rate: %v", err)
		}
		if !got.Equal(d(want)) {
			t.Fatalf("Rate(%s, %s) = %s, want %s", tenant, at, got, want)
		}
	}

	check("agency-1", base.Add(time.Hour), "3")
	check("agency-1", base.Add(36*time.Hour), "4")
	check("agency-1", end, "3")
	check("agency-3", base, "5")
}

func TestSchedule_AddRateValidates(t *testing.T) {
	s := NewSchedule(&MemoryRepo{}, decimal.Zero)
	if _, err := s.AddRate(context.Background(), Rate{Percent: d("1")}, "root-1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing tenant, got %v", err)
	}
	if _, err := s.AddRate(context.Background(), Rate{TenantID: "a", Percent: d("101")}, "root-1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation for rate > 100, got %v", err)
	}
	if _, err := s.AddRate(context.Background(), Rate{TenantID: "a", Percent: d("2.5")}, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing actor, got %v", err)
	}
	r, err := s.AddRate(context.Background(), Rate{TenantID: "a", Percent: d("2.5")}, "root-1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r.ID == "" || r.Status != RateStatusActive || r.EffectiveFrom.IsZero() {
		t.Fatalf("expected defaults applied, got %+v", r)
	}
}

func TestSchedule_AddRateTakesEffectAndIsAudited(t *testing.T) {
	events := audit.NewMemoryRepo()
	s := NewSchedule(&MemoryRepo{}, d("5")).WithAudit(audit.NewService(events))
	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.AddRate(context.Background(), Rate{TenantID: "agency-1", Percent: d("2"), EffectiveFrom: from}, "root-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.Rate(context.Background(), "agency-1", from.Add(time.Hour))
	if err != nil || !got.Equal(d("2")) {
		t.Fatalf("expected scheduled rate 2, got %s (%v)", got, err)
	}
	if got, _ := s.Rate(context.Background(), "agency-1", from.Add(-time.Hour)); !got.Equal(d("5")) {
		t.Fatalf("expected fallback before the window, got %s", got)
	}

	evs := events.Find(audit.Query{TenantID: "agency-1", Type: audit.EventTypeCommissionRateSet})
	if len(evs) != 1 || evs[0].ActorID != "root-1" {
		t.Fatalf("expected one audit event by root-1, got %+v", evs)
	}
}
