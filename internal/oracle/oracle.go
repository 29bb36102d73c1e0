// internal/oracle/oracle.go
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/peerquiz/peerquiz/internal/protocol"
)

// Oracle decides answer equivalence and supplies fresh round targets. The
// match coordinator makes no assumption about how equivalence is computed
// beyond reflexivity; it may be many-to-one.
type Oracle interface {
	PickRandomTarget(f protocol.QuestionFilter) (string, error)
	IsEquivalent(candidateID, targetID string) bool
}

// Describer is optionally implemented by oracles that can attach display
// metadata (categorical tags) to a target.
type Describer interface {
	Describe(id string) (Question, bool)
}

// ErrNoCandidates is returned when a filter excludes the entire bank.
var ErrNoCandidates = errors.New("oracle: no questions match the filter")

// ErrNotReady is returned when the bank is queried before a load completes.
var ErrNotReady = errors.New("oracle: question bank not loaded")

// Question is one entry of the bank: an identity plus the attribute vector
// equivalence is computed over.
type Question struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Generation   int      `json:"generation"`
	Tags         []string `json:"tags"`
	Stats        [6]int   `json:"stats"`
	FullyEvolved bool     `json:"fullyEvolved"`
	Mega         bool     `json:"mega"`
}

type filterKey struct {
	minGen, maxGen int
	fullyEvolved   bool
	includeMega    bool
}

// Bank is an in-memory question bank. Two questions are equivalent when
// their six-stat vectors are identical (the stat-twin rule), so equivalence
// is reflexive and many-to-one. Candidate lists per filter are memoized on
// the instance; there is no process-wide cache.
type Bank struct {
	mu    sync.Mutex
	byID  map[string]Question
	all   []Question
	cache map[filterKey][]string
	rng   *rand.Rand

	readyOnce sync.Once
	ready     chan struct{}
	loadErr   error
}

// NewBank returns an empty bank. It reports not-ready until Load (or Fail)
// is called exactly once.
func NewBank() *Bank {
	return &Bank{
		byID:  make(map[string]Question),
		cache: make(map[filterKey][]string),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		ready: make(chan struct{}),
	}
}

// Load installs the question set and resolves the readiness signal. It is a
// single assignment: later calls are ignored.
func (b *Bank) Load(questions []Question) {
	b.readyOnce.Do(func() {
		b.mu.Lock()
		b.all = make([]Question, len(questions))
		copy(b.all, questions)
		for _, q := range b.all {
			b.byID[q.ID] = q
		}
		b.mu.Unlock()
		close(b.ready)
	})
}

// Fail resolves the readiness signal with a load error instead of data.
func (b *Bank) Fail(err error) {
	b.readyOnce.Do(func() {
		b.loadErr = err
		close(b.ready)
	})
}

// WaitUntilReady blocks until the bank is loaded, the load fails, or ctx
// expires. The underlying resolver is never exposed.
func (b *Bank) WaitUntilReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return b.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loaded reports readiness without blocking.
func (b *Bank) loaded() bool {
	select {
	case <-b.ready:
		return b.loadErr == nil
	default:
		return false
	}
}

// candidates returns (and memoizes) the IDs matching a filter.
func (b *Bank) candidates(f protocol.QuestionFilter) []string {
	key := filterKey{
		minGen:       f.MinGeneration,
		maxGen:       f.MaxGeneration,
		fullyEvolved: f.FullyEvolvedOnly,
		includeMega:  f.IncludeMega,
	}
	if ids, ok := b.cache[key]; ok {
		return ids
	}

	var ids []string
	for _, q := range b.all {
		if f.MinGeneration > 0 && q.Generation < f.MinGeneration {
			continue
		}
		if f.MaxGeneration > 0 && q.Generation > f.MaxGeneration {
			continue
		}
		if f.FullyEvolvedOnly && !q.FullyEvolved {
			continue
		}
		if !f.IncludeMega && q.Mega {
			continue
		}
		ids = append(ids, q.ID)
	}
	b.cache[key] = ids
	return ids
}

// PickRandomTarget draws a fresh target from the filtered pool.
func (b *Bank) PickRandomTarget(f protocol.QuestionFilter) (string, error) {
	if !b.loaded() {
		if b.loadErr != nil {
			return "", fmt.Errorf("%w: %v", ErrNotReady, b.loadErr)
		}
		return "", ErrNotReady
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.candidates(f)
	if len(ids) == 0 {
		return "", ErrNoCandidates
	}
	return ids[b.rng.Intn(len(ids))], nil
}

// IsEquivalent reports whether two question IDs count as the same correct
// answer. Identical IDs are always equivalent, even when unknown to the bank.
func (b *Bank) IsEquivalent(candidateID, targetID string) bool {
	if candidateID == targetID {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	cand, ok1 := b.byID[candidateID]
	target, ok2 := b.byID[targetID]
	if !ok1 || !ok2 {
		return false
	}
	return cand.Stats == target.Stats
}

// Describe returns the full record for a question ID.
func (b *Bank) Describe(id string) (Question, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.byID[id]
	return q, ok
}
