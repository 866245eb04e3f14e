package classifier

import (
	"fmt"
	"testing"
	"time"

	"predflow/config"
	"predflow/models"
)

func testMarketConfig() config.MarketConfig {
	return config.MarketConfig{
		NicheKeywords:   config.NewBucket("weather", "eclipse"),
		StockKeywords:   config.NewBucket("earnings", "nasdaq"),
		ExcludeKeywords: config.NewBucket("test market"),
		MaxYearsAhead:   1,
	}
}

func TestClassifyNiche(t *testing.T) {
	m := &models.MarketMeta{Title: "Will the weather in NYC exceed 90F?", VolumeUSD: 100000}
	c := Classify(m, testMarketConfig())
	if !c.Niche || c.Stock || c.Excluded {
		t.Fatalf("unexpected classification: %+v", c)
	}
}

func TestClassifyStock(t *testing.T) {
	m := &models.MarketMeta{Title: "Nasdaq above 20k by June?", VolumeUSD: 100000}
	c := Classify(m, testMarketConfig())
	if c.Niche || !c.Stock || c.Excluded {
		t.Fatalf("unexpected classification: %+v", c)
	}
}

func TestClassifyIgnoresDescription(t *testing.T) {
	m := &models.MarketMeta{
		Title:       "Will the bill pass the Senate?",
		Description: "Traders also watch weather and nasdaq earnings chatter.",
		VolumeUSD:   100000,
	}
	c := Classify(m, testMarketConfig())
	if c.Niche || c.Stock || c.Excluded {
		t.Fatalf("description text must not drive classification: %+v", c)
	}
}

func TestClassifyMatchesTags(t *testing.T) {
	m := &models.MarketMeta{
		Title:     "Senate vote outcome",
		Tags:      []string{"Weather"},
		VolumeUSD: 100000,
	}
	c := Classify(m, testMarketConfig())
	if !c.Niche {
		t.Fatalf("tag text must be searchable: %+v", c)
	}
}

func TestClassifyBoth(t *testing.T) {
	m := &models.MarketMeta{Title: "Weather derivatives move Nasdaq earnings?", VolumeUSD: 100000}
	c := Classify(m, testMarketConfig())
	if !c.Niche || !c.Stock {
		t.Fatalf("niche and stock must be independent: %+v", c)
	}
}

func TestLongDatedExcluded(t *testing.T) {
	year := time.Now().Year() + 5
	m := &models.MarketMeta{
		Title:     fmt.Sprintf("Nasdaq hits 50k by %d?", year),
		VolumeUSD: 100000,
	}
	c := Classify(m, testMarketConfig())
	if !c.Excluded {
		t.Fatal("long-dated market must be excluded")
	}
	if c.Niche || c.Stock {
		t.Fatal("excluded market must not carry focus flags")
	}
}

func TestNearYearNotExcluded(t *testing.T) {
	year := time.Now().Year() + 1
	m := &models.MarketMeta{
		Title:     fmt.Sprintf("Nasdaq hits 25k in %d?", year),
		VolumeUSD: 100000,
	}
	c := Classify(m, testMarketConfig())
	if c.Excluded {
		t.Fatal("market within the year horizon must not be excluded")
	}
	if !c.Stock {
		t.Fatal("expected stock classification")
	}
}

func TestExcludeKeywordWins(t *testing.T) {
	m := &models.MarketMeta{Title: "Test market: weather earnings", VolumeUSD: 100000}
	c := Classify(m, testMarketConfig())
	if !c.Excluded || c.Niche || c.Stock {
		t.Fatalf("exclude keyword must veto focus flags: %+v", c)
	}
}

func TestLowVolumeNicheFallback(t *testing.T) {
	cfg := testMarketConfig()
	cfg.NicheMaxVolumeUSD = 1000

	m := &models.MarketMeta{Title: "Who wins the chess championship?", VolumeUSD: 500}
	c := Classify(m, cfg)
	if !c.Niche {
		t.Fatal("low-volume market must fall into the niche bucket")
	}

	m.VolumeUSD = 5000
	if c := Classify(m, cfg); c.Niche {
		t.Fatal("market above the volume limit must not be niche")
	}
}

func TestDisabledNicheBucketKillsFallback(t *testing.T) {
	cfg := testMarketConfig()
	cfg.NicheKeywords = config.DisabledBucket()
	cfg.NicheMaxVolumeUSD = 1000

	m := &models.MarketMeta{Title: "Will it rain in London? weather", VolumeUSD: 500}
	c := Classify(m, cfg)
	if c.Niche {
		t.Fatal("disabled niche bucket must suppress keyword and volume matches")
	}
}

func TestMissingMetadataConservative(t *testing.T) {
	c := Classify(&models.MarketMeta{VolumeUSD: 10}, testMarketConfig())
	if c.Niche || c.Stock || c.Excluded {
		t.Fatalf("missing title must classify conservatively: %+v", c)
	}
}
