// Package cluster maintains the registry of semantic question clusters
// shared across venues.
package cluster

import (
	"errors"
	"strings"
	"sync"
	"time"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"predflow/logger"
)

// ErrEmptyQuestion is returned when the input normalizes to nothing.
// Callers persist such trades with a null cluster identifier.
var ErrEmptyQuestion = errors.New("question text is empty")

// Record is one cluster: a monotone identifier and the representative text
// of its first member. Representatives never change and clusters are never
// merged or removed.
type Record struct {
	ID             int64
	Representative string
	CreatedAt      time.Time
}

// Registry assigns question strings to clusters by fuzzy similarity.
// The scan-then-create sequence in Assign is a single critical section so
// two concurrent near-duplicates cannot both create new clusters.
type Registry struct {
	mu        sync.Mutex
	threshold int
	nextID    int64
	records   []Record
	log       *logger.Entry
}

func NewRegistry(threshold int) *Registry {
	return &Registry{
		threshold: threshold,
		nextID:    1,
		log:       logger.GetLogger().WithComponent("cluster-registry"),
	}
}

// Assign maps a question to an existing cluster when the best token-set
// similarity over all representatives reaches the threshold, otherwise
// creates a new cluster and returns its identifier. Scores are 0 to 100.
// Ties at the best score resolve to the earliest-created cluster.
func (r *Registry) Assign(question string) (int64, error) {
	norm := Normalize(question)
	if norm == "" {
		return 0, ErrEmptyQuestion
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bestID := int64(0)
	bestScore := 0
	// records are in creation order, strictly-greater keeps the lowest id
	for _, rec := range r.records {
		score := fuzzy.TokenSetRatio(norm, rec.Representative)
		if score > bestScore {
			bestScore = score
			bestID = rec.ID
		}
	}

	if bestID != 0 && bestScore >= r.threshold {
		return bestID, nil
	}

	id := r.nextID
	r.nextID++
	r.records = append(r.records, Record{
		ID:             id,
		Representative: norm,
		CreatedAt:      time.Now(),
	})

	r.log.WithFields(logger.Fields{
		"cluster_id":     id,
		"representative": norm,
		"best_score":     bestScore,
	}).Debug("created new cluster")

	return id, nil
}

// Size returns the number of clusters created so far.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Representative returns the representative text of a cluster.
func (r *Registry) Representative(id int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec.Representative, true
		}
	}
	return "", false
}

// Normalize case-folds, trims, and collapses internal whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
