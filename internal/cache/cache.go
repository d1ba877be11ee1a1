// Package cache stores previously answered queries keyed by approximate
// textual similarity, scoped to the database they were answered against.
package cache

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/user/chatdb/internal/types"
)

// Entry is one cached answer. Entries are owned by the Store; callers must
// not mutate them outside RecordHit.
type Entry struct {
	ID          types.EntryID
	Tokens      map[string]bool
	DBContext   string
	Payload     string
	Explanation string
	Result      *types.Result
	CreatedAt   time.Time
	ExpiresAt   time.Time
	HitCount    int64
}

// Hit is a successful lookup: the matched entry plus its similarity score.
type Hit struct {
	Entry      *Entry
	Similarity float64
}

// Store is an in-memory similarity cache. A single mutex guards the entry
// collection; lookups, inserts, and hit increments are all safe to call from
// concurrent requests.
type Store struct {
	mu        sync.Mutex
	entries   []*Entry
	threshold float64
	ttl       time.Duration

	now func() time.Time // overridable for tests
}

// New creates a Store with the given similarity threshold and entry TTL.
func New(threshold float64, ttl time.Duration) *Store {
	return &Store{
		threshold: threshold,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Normalize lowercases the text, strips punctuation, and splits it into a
// deduplicated token set. Order is irrelevant for similarity.
func Normalize(text string) map[string]bool {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(b.String()) {
		tokens[t] = true
	}
	return tokens
}

// Jaccard returns |A ∩ B| / |A ∪ B| for two token sets. Two empty sets score
// 0 so that empty input never produces a trivial match.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Lookup scans entries sharing dbContext, skipping (and removing) expired
// ones, and returns the best match at or above the threshold. Ties are broken
// by the most recent creation time.
func (s *Store) Lookup(tokens map[string]bool, dbContext string) (*Hit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	live := s.entries[:0]
	var best *Entry
	var bestScore float64
	for _, e := range s.entries {
		if !e.ExpiresAt.After(now) {
			continue // expired, dropped below
		}
		live = append(live, e)
		if e.DBContext != dbContext {
			continue
		}
		score := Jaccard(tokens, e.Tokens)
		if score < s.threshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && e.CreatedAt.After(best.CreatedAt)) {
			best = e
			bestScore = score
		}
	}
	s.entries = live

	if best == nil {
		return nil, false
	}
	return &Hit{Entry: best, Similarity: bestScore}, true
}

// Insert stores a new entry with expiry now+TTL and a zero hit counter.
// Near-duplicate entries from racing requests are allowed to coexist.
func (s *Store) Insert(tokens map[string]bool, dbContext, payload, explanation string, result *types.Result) *Entry {
	now := s.now()
	e := &Entry{
		ID:          types.NewEntryID(),
		Tokens:      tokens,
		DBContext:   dbContext,
		Payload:     payload,
		Explanation: explanation,
		Result:      result,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return e
}

// RecordHit increments the entry's hit counter. Safe against concurrent hits
// on the same entry.
func (s *Store) RecordHit(e *Entry) {
	s.mu.Lock()
	e.HitCount++
	s.mu.Unlock()
}

// Sweep removes expired entries and returns how many were reclaimed. Expiry
// is already enforced lazily at lookup time; this only bounds memory when a
// context goes quiet.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	live := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.ExpiresAt.After(now) {
			live = append(live, e)
		} else {
			removed++
		}
	}
	s.entries = live
	return removed
}

// Len returns the number of entries currently held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
