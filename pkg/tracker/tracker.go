// Package tracker keeps a debounced registry of which identities are in view.
//
// Each sighting pins an entry's TTL at the cap; each frame without a sighting
// decrements it, and the entry is dropped when it reaches zero. Short gaps in
// detection therefore do not make an identity disappear.
package tracker

import "github.com/xanthein/cvservice/pkg/recognition"

// DefaultTTL is the number of absent frames an identity survives.
const DefaultTTL = 30

// Entry is one tracked identity.
type Entry struct {
	ID  int32
	TTL int
}

// SeenFaces is the presence registry. It is owned by the processing loop and
// is not safe for concurrent use.
type SeenFaces struct {
	cap     int
	entries []Entry
}

// New creates a registry. A non-positive ttl selects DefaultTTL.
func New(ttl int) *SeenFaces {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SeenFaces{cap: ttl}
}

// Update applies one frame's matched ids. It must be called every frame,
// including frames with no faces, so absent identities age out.
func (s *SeenFaces) Update(matched []int32) {
	seen := make(map[int32]bool, len(matched))
	for _, id := range matched {
		if id == recognition.UnknownID || seen[id] {
			continue
		}
		seen[id] = true
		if i := s.index(id); i >= 0 {
			s.entries[i].TTL = s.cap
		} else {
			s.entries = append(s.entries, Entry{ID: id, TTL: s.cap})
		}
	}

	kept := s.entries[:0]
	for _, e := range s.entries {
		if !seen[e.ID] {
			e.TTL--
			if e.TTL <= 0 {
				continue
			}
		}
		kept = append(kept, e)
	}
	s.entries = kept
}

func (s *SeenFaces) index(id int32) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// TTL returns the remaining frames for id, or 0 if it is not tracked.
func (s *SeenFaces) TTL(id int32) int {
	if i := s.index(id); i >= 0 {
		return s.entries[i].TTL
	}
	return 0
}

// Contains reports whether id is currently tracked.
func (s *SeenFaces) Contains(id int32) bool {
	return s.index(id) >= 0
}

// Len returns the number of tracked identities.
func (s *SeenFaces) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the registry in first-seen order.
func (s *SeenFaces) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
