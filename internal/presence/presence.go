// Package presence composes the hub's online roster with player-store
// lookups to produce the enriched roster payload returned by
// get_online_players_with_info.
package presence

import (
	"duelcore/internal/playerstore"
)

// Roster is the slice of hub.Hub presence needs.
type Roster interface {
	OnlineCount() int
	OnlineRoster() []string
}

// Entry is one enriched roster row.
type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Trophies int    `json:"trophies"`
	Arena    int    `json:"arena"`
}

// Broadcaster composes Roster and PlayerStore.
type Broadcaster struct {
	roster Roster
	store  playerstore.PlayerStore
}

// New wires a Broadcaster.
func New(roster Roster, store playerstore.PlayerStore) *Broadcaster {
	return &Broadcaster{roster: roster, store: store}
}

// OnlineCount passes through Hub's live count.
func (b *Broadcaster) OnlineCount() int {
	return b.roster.OnlineCount()
}

// OnlinePlayers joins every online player_id against PlayerStore to
// produce the enriched {id, name, trophies, arena} rows. Players whose
// record lookup fails are skipped rather than aborting the whole
// roster.
func (b *Broadcaster) OnlinePlayers() []Entry {
	ids := b.roster.OnlineRoster()
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		record, err := b.store.Get(id)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			ID:       record.ID,
			Name:     record.Username,
			Trophies: record.Trophies,
			Arena:    arenaOf(record.Trophies),
		})
	}
	return entries
}

// arenaOf derives the cosmetic rank tier from trophies: floor(trophies
// / 100), minimum 1 — matching the Python original's
// stats.get('arena', 1) fallback.
func arenaOf(trophies int) int {
	arena := trophies / 100
	if arena < 1 {
		return 1
	}
	return arena
}
