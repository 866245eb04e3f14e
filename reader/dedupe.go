package reader

// SeenRing remembers the most recent identifiers observed by a poller so
// overlapping poll windows do not re-emit the same trades. FIFO eviction,
// not safe for concurrent use.
type SeenRing struct {
	limit int
	set   map[string]struct{}
	order []string
	idx   int
}

func NewSeenRing(limit int) *SeenRing {
	if limit <= 0 {
		limit = 5000
	}
	return &SeenRing{
		limit: limit,
		set:   make(map[string]struct{}, limit),
		order: make([]string, 0, limit),
	}
}

// Observe records the identifier and reports whether it was new.
func (s *SeenRing) Observe(id string) bool {
	if _, dup := s.set[id]; dup {
		return false
	}
	if len(s.order) < s.limit {
		s.order = append(s.order, id)
	} else {
		delete(s.set, s.order[s.idx])
		s.order[s.idx] = id
		s.idx = (s.idx + 1) % s.limit
	}
	s.set[id] = struct{}{}
	return true
}

// Len returns how many identifiers are currently remembered.
func (s *SeenRing) Len() int { return len(s.set) }
