package config

import (
	"os"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `predflow:
  name: "TestApp"
  version: "1.0"
venues:
  polymarket:
    enabled: true
    rest_url: "https://gamma-api.example.com"
    streams:
      rest_poll: true
sink:
  database_url: "postgres://localhost/predflow"
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Predflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Predflow.Name)
	}
	if cfg.Channels.TradeBuffer != 1000 {
		t.Errorf("unexpected trade buffer default: %d", cfg.Channels.TradeBuffer)
	}
	if cfg.Cluster.Threshold != 85 {
		t.Errorf("unexpected cluster threshold default: %d", cfg.Cluster.Threshold)
	}
	if !cfg.Market.StockKeywords.Active() {
		t.Error("expected default stock keywords to be active")
	}
}

func TestLoadConfigNoVenue(t *testing.T) {
	path := writeTempConfig(t, `predflow:
  name: "TestApp"
  version: "1.0"
sink:
  database_url: "postgres://localhost/predflow"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error with no venue enabled")
	}
}

func TestBucketYAMLForms(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`market:
  niche_keywords: "off"
  stock_keywords: ["earnings", "nasdaq"]
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Market.NicheKeywords.Disabled() {
		t.Error("expected niche keywords disabled by off sentinel")
	}
	if cfg.Market.NicheKeywords.Active() {
		t.Error("disabled bucket must not be active")
	}
	terms := cfg.Market.StockKeywords.Terms()
	if len(terms) != 2 || terms[0] != "earnings" {
		t.Errorf("unexpected stock keywords: %v", terms)
	}
	if !cfg.Market.ExcludeKeywords.IsSet() {
		t.Error("expected default exclude keywords")
	}
}

func TestBucketEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	t.Setenv("MARKET_NICHE_KEYWORDS", "off")
	t.Setenv("MARKET_STOCK_KEYWORDS", "tesla, apple ,nvidia")
	t.Setenv("POLYMARKET_EVENT_EXCLUDE_KEYWORDS", "parlay")
	t.Setenv("MARKET_MAX_YEARS_AHEAD", "3")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Market.NicheKeywords.Disabled() {
		t.Error("expected env off sentinel to disable niche keywords")
	}
	terms := cfg.Market.StockKeywords.Terms()
	if len(terms) != 3 || terms[1] != "apple" {
		t.Errorf("unexpected stock keywords from env: %v", terms)
	}
	if !cfg.Venues.Polymarket.Filters.Exclude.Active() {
		t.Error("expected polymarket exclude bucket active from env")
	}
	if cfg.Market.MaxYearsAhead != 3 {
		t.Errorf("unexpected max_years_ahead: %d", cfg.Market.MaxYearsAhead)
	}
}

func TestBucketStates(t *testing.T) {
	var unset Bucket
	if unset.IsSet() || unset.Active() || unset.Disabled() {
		t.Error("zero bucket must be fully unset")
	}

	off := DisabledBucket()
	if !off.IsSet() || !off.Disabled() || off.Active() {
		t.Error("disabled bucket state is wrong")
	}

	empty := NewBucket()
	if !empty.Active() || !empty.Empty() {
		t.Error("empty populated bucket must be active and empty")
	}

	b := NewBucket("Fed", "rates")
	if !b.MatchesSubstring("Will the FED cut rates?") {
		t.Error("expected case-insensitive substring match")
	}
	if b.MatchesSubstring("election outcome") {
		t.Error("unexpected match")
	}
	if !b.ContainsAny("RATES") {
		t.Error("expected case-insensitive membership match")
	}
}

func TestDefaultClassifierKeywords(t *testing.T) {
	var cfg Config
	applyClassifierDefaults(&cfg)

	for _, kw := range []string{"eps", "revenue", "guidance", "dividend"} {
		if !cfg.Market.StockKeywords.MatchesSubstring(kw) {
			t.Errorf("default stock keywords missing %q", kw)
		}
	}
	for _, kw := range []string{"arrest", "indictment", "fraud", "sec", "doj"} {
		if !cfg.Market.NicheKeywords.MatchesSubstring(kw) {
			t.Errorf("default niche keywords missing %q", kw)
		}
	}
	for _, kw := range []string{"bitcoin", "crypto", "super bowl", "nfl", "olympics"} {
		if !cfg.Market.ExcludeKeywords.MatchesSubstring(kw) {
			t.Errorf("default exclude keywords missing %q", kw)
		}
	}

	disabled := Config{}
	disabled.Market.NicheKeywords = DisabledBucket()
	applyClassifierDefaults(&disabled)
	if !disabled.Market.NicheKeywords.Disabled() {
		t.Error("disabled bucket must survive default filling")
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	cases := []struct {
		raw      string
		want     string
		prodLike bool
	}{
		{"", EnvironmentDevelopment, false},
		{"prod", EnvironmentProduction, true},
		{"Producation", EnvironmentProduction, true},
		{"stagging", EnvironmentStaging, true},
		{"production", EnvironmentProduction, true},
	}
	for _, c := range cases {
		t.Setenv("APP_ENV", c.raw)
		got := AppEnvironment()
		if got != c.want {
			t.Errorf("AppEnvironment(%q) = %q, want %q", c.raw, got, c.want)
		}
		if IsProductionLike(got) != c.prodLike {
			t.Errorf("IsProductionLike(%q) = %v, want %v", got, !c.prodLike, c.prodLike)
		}
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
