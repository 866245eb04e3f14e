package filter

import (
	"testing"

	"predflow/config"
	"predflow/models"
)

func sampleMarkets() []models.MarketMeta {
	return []models.MarketMeta{
		{MarketID: "m1", Title: "Will the Fed cut rates in March?", Category: "economics", Tags: []string{"fed", "rates"}},
		{MarketID: "m2", Title: "Super Bowl winner 2026", Category: "sports", Tags: []string{"nfl"}},
		{MarketID: "m3", Title: "Tesla Q4 earnings beat?", Category: "companies", Companies: []string{"TSLA"}},
	}
}

func TestWildcard(t *testing.T) {
	var f config.FilterConfig
	if !Wildcard(f) {
		t.Fatal("expected wildcard with all buckets unset")
	}

	f.Keywords = config.NewBucket("fed")
	if Wildcard(f) {
		t.Fatal("expected no wildcard with a keyword bucket set")
	}

	// explicitly disabled buckets do not count as configured
	f = config.FilterConfig{
		Keywords: config.DisabledBucket(),
		Tags:     config.DisabledBucket(),
	}
	if !Wildcard(f) {
		t.Fatal("expected wildcard with only disabled buckets")
	}
}

func TestApplyKeywordFilter(t *testing.T) {
	f := config.FilterConfig{Keywords: config.NewBucket("fed")}
	got := Apply(sampleMarkets(), f, "polymarket")
	if len(got) != 1 || got[0].MarketID != "m1" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestApplyPreservesOrder(t *testing.T) {
	f := config.FilterConfig{Categories: config.NewBucket("economics", "companies")}
	got := Apply(sampleMarkets(), f, "polymarket")
	if len(got) != 2 || got[0].MarketID != "m1" || got[1].MarketID != "m3" {
		t.Fatalf("order not preserved: %v", got)
	}
}

func TestExcludeVeto(t *testing.T) {
	// exclude wins even when every inclusion bucket matches
	f := config.FilterConfig{
		Keywords: config.NewBucket("tesla"),
		Exclude:  config.NewBucket("earnings"),
	}
	got := Apply(sampleMarkets(), f, "polymarket")
	if len(got) != 0 {
		t.Fatalf("exclude veto did not fire: %v", got)
	}
}

func TestExcludeWithoutInclusion(t *testing.T) {
	f := config.FilterConfig{Exclude: config.NewBucket("super bowl")}
	got := Apply(sampleMarkets(), f, "polymarket")
	if len(got) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(got))
	}
	for _, m := range got {
		if m.MarketID == "m2" {
			t.Fatal("excluded market survived")
		}
	}
}

func TestCompanyAndTagFilters(t *testing.T) {
	f := config.FilterConfig{Companies: config.NewBucket("tsla")}
	got := Apply(sampleMarkets(), f, "polymarket")
	if len(got) != 1 || got[0].MarketID != "m3" {
		t.Fatalf("company filter failed: %v", got)
	}

	f = config.FilterConfig{Tags: config.NewBucket("NFL")}
	got = Apply(sampleMarkets(), f, "kalshi")
	if len(got) != 1 || got[0].MarketID != "m2" {
		t.Fatalf("tag filter failed: %v", got)
	}
}

func TestDegenerateFallsBackToWildcard(t *testing.T) {
	f := config.FilterConfig{Keywords: config.NewBucket()}
	if !Degenerate(f) {
		t.Fatal("expected degenerate config")
	}
	got := Apply(sampleMarkets(), f, "polymarket")
	if len(got) != len(sampleMarkets()) {
		t.Fatalf("degenerate config must fall back to wildcard, got %d markets", len(got))
	}
}
