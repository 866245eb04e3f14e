// Package classifier labels markets as niche and/or stock-oriented, or
// excluded, from metadata and keyword rules.
package classifier

import (
	"regexp"
	"strconv"
	"time"

	"predflow/config"
	"predflow/models"
)

var yearPattern = regexp.MustCompile(`\b(20\d{2})\b`)

// Classify derives the classification for a market. Long-dated markets and
// exclude-keyword matches are excluded outright; otherwise niche and stock
// are evaluated independently. Markets without a title are classified
// conservatively as neither.
func Classify(m *models.MarketMeta, cfg config.MarketConfig) models.MarketClassification {
	return classify(m, cfg, time.Now().Year())
}

func classify(m *models.MarketMeta, cfg config.MarketConfig, currentYear int) models.MarketClassification {
	var c models.MarketClassification

	if m == nil || (m.Title == "" && m.Question == "") {
		return c
	}

	if longDated(m.Title, currentYear+cfg.MaxYearsAhead) || longDated(m.Question, currentYear+cfg.MaxYearsAhead) {
		c.Excluded = true
		return c
	}

	if cfg.ExcludeKeywords.MatchesSubstring(m.Title + " " + m.Question + " " + m.Category) {
		c.Excluded = true
		return c
	}

	search := m.SearchText()

	c.Niche = cfg.NicheKeywords.MatchesSubstring(search)
	if !c.Niche && !cfg.NicheKeywords.Disabled() && cfg.NicheMaxVolumeUSD > 0 {
		// low-liquidity markets count as niche even without a keyword hit
		c.Niche = m.VolumeUSD > 0 && m.VolumeUSD <= cfg.NicheMaxVolumeUSD
	}

	c.Stock = cfg.StockKeywords.MatchesSubstring(search)

	return c
}

// longDated reports whether the text names a 4-digit year strictly beyond
// the horizon.
func longDated(text string, horizon int) bool {
	for _, tok := range yearPattern.FindAllString(text, -1) {
		year, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if year > horizon {
			return true
		}
	}
	return false
}
