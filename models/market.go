package models

import (
	"strings"
)

// MarketMeta describes a single market (or event) as listed by a venue
type MarketMeta struct {
	Venue       string   `json:"venue"`
	MarketID    string   `json:"market_id"`
	Title       string   `json:"title"`
	Question    string   `json:"question"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Companies   []string `json:"companies,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	VolumeUSD   float64  `json:"volume_usd"`
}

// QuestionText returns the best available question string for clustering
func (m *MarketMeta) QuestionText() string {
	if m.Question != "" {
		return m.Question
	}
	return m.Title
}

// SearchText returns the lowercased concatenation of the fields keyword
// matching runs against: title, question, category and tags. Descriptions
// stay out, they are prose and produce spurious keyword hits.
func (m *MarketMeta) SearchText() string {
	parts := make([]string, 0, 3+len(m.Tags))
	parts = append(parts, m.Title, m.Question, m.Category)
	parts = append(parts, m.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

// MarketClassification labels a market for downstream analysis.
// Excluded wins over both focus flags; niche and stock are independent.
type MarketClassification struct {
	Niche    bool `json:"niche"`
	Stock    bool `json:"stock"`
	Excluded bool `json:"excluded"`
}

// ListingUpdate carries a batch of market metadata from discovery or from
// a push stream delivering volume updates
type ListingUpdate struct {
	Venue   string       `json:"venue"`
	Markets []MarketMeta `json:"markets"`
}
