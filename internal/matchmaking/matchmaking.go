// Package matchmaking implements per-mode waiting sets with widening
// tolerance, atomic pairing under contention, and a tick driver run by
// the same ticker-goroutine idiom the server uses for its own
// periodic background work.
package matchmaking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"duelcore/internal/monitoring"
)

// ErrInvalidDeck is returned by JoinQueue when deck fails validation:
// 1-8 card identifiers, no duplicates. Queue state is unchanged.
var ErrInvalidDeck = errors.New("matchmaking: invalid deck")

const (
	minDeckSize     = 1
	maxDeckSize     = 8
	baseTolerance   = 100
	maxTolerance    = 1000
	toleranceStep   = 50
	toleranceWindow = 5 * time.Second
)

// QueueEntry is one player's desire to be matched.
type QueueEntry struct {
	PlayerID  string
	Mode      string
	Trophies  int
	Rating    int
	Deck      []string
	JoinedAt  time.Time
	Tolerance int
}

// Pair is two entries the matching tick selected for a duel.
type Pair struct {
	Mode string
	P1   QueueEntry
	P2   QueueEntry
}

// Matchmaker holds the per-mode waiting sets.
type Matchmaker struct {
	mu     sync.Mutex
	queues map[string][]QueueEntry // mode -> entries, order doesn't matter beyond tie-break
	index  map[string]string       // player_id -> mode

	onPair func(Pair)
	logger zerolog.Logger
}

// New builds an empty Matchmaker. onPair is invoked (outside the
// Matchmaker's lock) whenever the tick selects a pair; wiring code
// passes a closure that hands the pair to BattleCoordinator.create.
func New(onPair func(Pair), logger zerolog.Logger) *Matchmaker {
	return &Matchmaker{
		queues: make(map[string][]QueueEntry),
		index:  make(map[string]string),
		onPair: onPair,
		logger: logger,
	}
}

func validateDeck(deck []string) error {
	if len(deck) < minDeckSize || len(deck) > maxDeckSize {
		return ErrInvalidDeck
	}
	seen := make(map[string]struct{}, len(deck))
	for _, card := range deck {
		if _, dup := seen[card]; dup {
			return ErrInvalidDeck
		}
		seen[card] = struct{}{}
	}
	return nil
}

// JoinQueue atomically removes any existing entry for playerID (across
// any mode) and appends a fresh one with tolerance=100, joined_at=now.
func (m *Matchmaker) JoinQueue(playerID, mode string, trophies, rating int, deck []string) error {
	if err := validateDeck(deck); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(playerID)

	entry := QueueEntry{
		PlayerID:  playerID,
		Mode:      mode,
		Trophies:  trophies,
		Rating:    rating,
		Deck:      append([]string(nil), deck...),
		JoinedAt:  time.Now(),
		Tolerance: baseTolerance,
	}
	m.queues[mode] = append(m.queues[mode], entry)
	m.index[playerID] = mode
	monitoring.QueueSize.WithLabelValues(mode).Set(float64(len(m.queues[mode])))
	return nil
}

// LeaveQueue atomically removes playerID's entry, if any, and reports
// whether a queued entry was actually found and removed.
func (m *Matchmaker) LeaveQueue(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, queued := m.index[playerID]
	m.removeLocked(playerID)
	return queued
}

func (m *Matchmaker) removeLocked(playerID string) {
	mode, ok := m.index[playerID]
	if !ok {
		return
	}
	delete(m.index, playerID)
	entries := m.queues[mode]
	for i, e := range entries {
		if e.PlayerID == playerID {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	m.queues[mode] = entries
	monitoring.QueueSize.WithLabelValues(mode).Set(float64(len(entries)))
}

// Position returns the 1-based queue position of playerID within its
// mode, or 0 if the player is not queued.
func (m *Matchmaker) Position(playerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.index[playerID]
	if !ok {
		return 0
	}
	for i, e := range m.queues[mode] {
		if e.PlayerID == playerID {
			return i + 1
		}
	}
	return 0
}

// Size returns the number of entries waiting in mode.
func (m *Matchmaker) Size(mode string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[mode])
}

// EstimatedWait heuristically estimates playerID's wait in seconds:
// max(5, 10*size(mode)).
func (m *Matchmaker) EstimatedWait(playerID string) int {
	m.mu.Lock()
	mode, ok := m.index[playerID]
	if !ok {
		m.mu.Unlock()
		return 0
	}
	size := len(m.queues[mode])
	m.mu.Unlock()

	wait := 10 * size
	if wait < 5 {
		wait = 5
	}
	return wait
}

// Run drives the matching tick once per interval until ctx is
// cancelled.
func (m *Matchmaker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Matchmaker) tick() {
	pairs := m.selectPairsLocked()
	for _, p := range pairs {
		m.onPair(p)
	}
}

// selectPairsLocked widens tolerance for every waiting entry, then
// greedily selects the lowest-score eligible pair, removes both
// entries, and repeats until no eligible pair remains in any mode.
func (m *Matchmaker) selectPairsLocked() []Pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pairs []Pair
	now := time.Now()

	for mode, entries := range m.queues {
		for i := range entries {
			waited := now.Sub(entries[i].JoinedAt).Seconds()
			tol := baseTolerance + toleranceStep*int(waited/toleranceWindow.Seconds())
			if tol > maxTolerance {
				tol = maxTolerance
			}
			entries[i].Tolerance = tol
		}
		m.queues[mode] = entries

		for {
			i, j, found := bestPair(entries)
			if !found {
				break
			}
			p1, p2 := entries[i], entries[j]
			pairs = append(pairs, Pair{Mode: mode, P1: p1, P2: p2})

			// remove j first (larger index) to keep i valid
			entries = append(entries[:j], entries[j+1:]...)
			entries = append(entries[:i], entries[i+1:]...)
			delete(m.index, p1.PlayerID)
			delete(m.index, p2.PlayerID)
		}
		m.queues[mode] = entries
		monitoring.QueueSize.WithLabelValues(mode).Set(float64(len(entries)))
	}
	return pairs
}

// bestPair finds the eligible pair with the lowest score, ties broken
// by earliest combined joined_at.
func bestPair(entries []QueueEntry) (int, int, bool) {
	bestI, bestJ := -1, -1
	bestScore := 0.0
	var bestJoined time.Time

	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			tol := a.Tolerance
			if b.Tolerance > tol {
				tol = b.Tolerance
			}
			trophyGap := abs(a.Trophies - b.Trophies)
			if trophyGap > tol {
				continue
			}
			score := 0.7*float64(abs(a.Rating-b.Rating)) + 0.3*float64(trophyGap)
			combinedJoined := earlier(a.JoinedAt, b.JoinedAt)

			if bestI == -1 || score < bestScore || (score == bestScore && combinedJoined.Before(bestJoined)) {
				bestI, bestJ = i, j
				bestScore = score
				bestJoined = combinedJoined
			}
		}
	}
	return bestI, bestJ, bestI != -1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
