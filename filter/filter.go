// Package filter implements the discovery-time rules deciding which
// markets and events are ingested from a venue.
package filter

import (
	"strings"

	"predflow/config"
	"predflow/logger"
	"predflow/models"
)

// buckets lists every filter bucket of the config, inclusion and exclude.
func buckets(f config.FilterConfig) []config.Bucket {
	return []config.Bucket{f.Keywords, f.Categories, f.Companies, f.Tags, f.Exclude}
}

// Wildcard reports whether discovery should use the venue's broad
// subscription: true iff no filter bucket is configured at all. Explicitly
// disabled buckets count as unconfigured.
func Wildcard(f config.FilterConfig) bool {
	for _, b := range buckets(f) {
		if b.Active() {
			return false
		}
	}
	return true
}

// Degenerate reports whether the configuration is active but can never
// match anything: at least one inclusion bucket is populated with no
// usable terms. Such a config would silently ingest nothing.
func Degenerate(f config.FilterConfig) bool {
	if Wildcard(f) {
		return false
	}
	inclusion := []config.Bucket{f.Keywords, f.Categories, f.Companies, f.Tags}
	for _, b := range inclusion {
		if b.Empty() {
			return true
		}
	}
	return false
}

// Match reports whether a single market passes the filter: every active
// inclusion bucket must match, and no exclude keyword may appear in the
// market's text. Exclude is a veto checked regardless of which inclusion
// buckets are set.
func Match(m *models.MarketMeta, f config.FilterConfig) bool {
	if f.Exclude.MatchesSubstring(m.Title + " " + m.Description + " " + m.Question) {
		return false
	}
	if f.Keywords.Active() && !f.Keywords.MatchesSubstring(m.Title+" "+m.Description+" "+m.Question) {
		return false
	}
	if f.Categories.Active() && !matchCategory(m.Category, f.Categories) {
		return false
	}
	if f.Companies.Active() && !f.Companies.ContainsAny(m.Companies...) {
		return false
	}
	if f.Tags.Active() && !f.Tags.ContainsAny(m.Tags...) {
		return false
	}
	return true
}

// Apply returns the order-preserving subsequence of markets passing the
// filter. A degenerate configuration falls back to wildcard (everything
// passes) rather than excluding the whole venue; the fallback is logged
// once per call.
func Apply(markets []models.MarketMeta, f config.FilterConfig, venue string) []models.MarketMeta {
	if Wildcard(f) {
		return markets
	}
	if Degenerate(f) {
		logger.GetLogger().WithComponent("discovery-filter").WithFields(logger.Fields{
			"venue": venue,
		}).Warn("filter config is active but empty, falling back to wildcard")
		return markets
	}

	out := make([]models.MarketMeta, 0, len(markets))
	for _, m := range markets {
		if Match(&m, f) {
			out = append(out, m)
		}
	}
	return out
}

// categories compare exactly, case-insensitively
func matchCategory(category string, b config.Bucket) bool {
	category = strings.ToLower(strings.TrimSpace(category))
	for _, term := range b.Terms() {
		if strings.ToLower(strings.TrimSpace(term)) == category {
			return true
		}
	}
	return false
}
