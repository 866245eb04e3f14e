package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// disable sentinels accepted from YAML scalars and environment values
var bucketOffValues = map[string]bool{
	"off":   true,
	"none":  true,
	"false": true,
	"0":     true,
}

// Bucket is a tri-state filter term list: unset (no constraint), explicitly
// disabled, or populated with terms. An empty-but-populated bucket is
// representable and is distinct from an unset one.
type Bucket struct {
	set      bool
	disabled bool
	terms    []string
}

// NewBucket returns a populated bucket holding the given terms.
func NewBucket(terms ...string) Bucket {
	return Bucket{set: true, terms: terms}
}

// DisabledBucket returns an explicitly disabled bucket.
func DisabledBucket() Bucket {
	return Bucket{set: true, disabled: true}
}

// IsSet reports whether the bucket was configured at all, including the
// disabled form.
func (b Bucket) IsSet() bool { return b.set }

// Disabled reports whether the bucket was explicitly switched off.
func (b Bucket) Disabled() bool { return b.set && b.disabled }

// Active reports whether the bucket imposes a constraint: configured,
// not disabled.
func (b Bucket) Active() bool { return b.set && !b.disabled }

// Terms returns the configured terms. Nil for unset or disabled buckets.
func (b Bucket) Terms() []string {
	if !b.Active() {
		return nil
	}
	return b.terms
}

// Empty reports whether the bucket is active but holds no usable terms.
// Such a configuration would exclude everything and is treated as
// degenerate by the discovery filter.
func (b Bucket) Empty() bool {
	if !b.Active() {
		return false
	}
	for _, t := range b.terms {
		if strings.TrimSpace(t) != "" {
			return false
		}
	}
	return true
}

// MatchesSubstring reports whether any term is a case-insensitive substring
// of text. False for unset, disabled, or empty buckets.
func (b Bucket) MatchesSubstring(text string) bool {
	if !b.Active() {
		return false
	}
	lower := strings.ToLower(text)
	for _, term := range b.terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" && strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// ContainsAny reports whether any of the given values appears in the bucket,
// compared case-insensitively. False for unset, disabled, or empty buckets.
func (b Bucket) ContainsAny(values ...string) bool {
	if !b.Active() {
		return false
	}
	for _, term := range b.terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		for _, v := range values {
			if term == strings.ToLower(strings.TrimSpace(v)) {
				return true
			}
		}
	}
	return false
}

// UnmarshalYAML accepts either a sequence of terms or a scalar disable
// sentinel ("off", "none", "false", "0").
func (b *Bucket) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v := strings.ToLower(strings.TrimSpace(node.Value))
		if bucketOffValues[v] {
			*b = DisabledBucket()
			return nil
		}
		if v == "" {
			*b = Bucket{}
			return nil
		}
		return fmt.Errorf("invalid bucket value %q: expected a list or a disable sentinel", node.Value)
	case yaml.SequenceNode:
		var terms []string
		if err := node.Decode(&terms); err != nil {
			return fmt.Errorf("invalid bucket list: %w", err)
		}
		*b = NewBucket(terms...)
		return nil
	default:
		return fmt.Errorf("invalid bucket node kind %d", node.Kind)
	}
}

// MarshalYAML renders the bucket back to its configuration form.
func (b Bucket) MarshalYAML() (interface{}, error) {
	if !b.set {
		return nil, nil
	}
	if b.disabled {
		return "off", nil
	}
	return b.terms, nil
}

// parseBucketEnv interprets an environment value as a bucket override:
// a disable sentinel yields a disabled bucket, anything else is a
// comma-separated term list.
func parseBucketEnv(value string) Bucket {
	v := strings.TrimSpace(value)
	if bucketOffValues[strings.ToLower(v)] {
		return DisabledBucket()
	}
	var terms []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			terms = append(terms, part)
		}
	}
	return NewBucket(terms...)
}
