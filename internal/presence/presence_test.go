package presence

import (
	"testing"

	"duelcore/internal/playerstore"
)

type fakeRoster struct {
	ids []string
}

func (r *fakeRoster) OnlineCount() int       { return len(r.ids) }
func (r *fakeRoster) OnlineRoster() []string { return r.ids }

func newStoreWith(records ...*playerstore.PlayerRecord) *playerstore.InMemoryStore {
	s := playerstore.NewInMemoryStore()
	for _, r := range records {
		s.Seed(r)
	}
	return s
}

func TestOnlinePlayersJoinsAgainstStore(t *testing.T) {
	store := newStoreWith(
		&playerstore.PlayerRecord{ID: "p1", Username: "Alice", Trophies: 250},
		&playerstore.PlayerRecord{ID: "p2", Username: "Bob", Trophies: 50},
	)
	b := New(&fakeRoster{ids: []string{"p1", "p2"}}, store)

	entries := b.OnlinePlayers()

	if len(entries) != 2 {
		t.Fatalf("got %d entries; want 2", len(entries))
	}
	var alice Entry
	for _, e := range entries {
		if e.ID == "p1" {
			alice = e
		}
	}
	if alice.Name != "Alice" || alice.Arena != 2 {
		t.Errorf("got %+v; want Name=Alice Arena=2", alice)
	}
}

func TestOnlinePlayersSkipsMissingRecords(t *testing.T) {
	store := newStoreWith(&playerstore.PlayerRecord{ID: "p1", Username: "Alice", Trophies: 100})
	b := New(&fakeRoster{ids: []string{"p1", "ghost"}}, store)

	entries := b.OnlinePlayers()

	if len(entries) != 1 || entries[0].ID != "p1" {
		t.Errorf("got %+v; want only p1", entries)
	}
}

func TestOnlineCountPassesThrough(t *testing.T) {
	b := New(&fakeRoster{ids: []string{"p1", "p2", "p3"}}, newStoreWith())
	if b.OnlineCount() != 3 {
		t.Errorf("OnlineCount() = %d; want 3", b.OnlineCount())
	}
}

func TestArenaOfFloorsAtOne(t *testing.T) {
	if arenaOf(0) != 1 {
		t.Errorf("arenaOf(0) = %d; want 1", arenaOf(0))
	}
	if arenaOf(50) != 1 {
		t.Errorf("arenaOf(50) = %d; want 1", arenaOf(50))
	}
	if arenaOf(250) != 2 {
		t.Errorf("arenaOf(250) = %d; want 2", arenaOf(250))
	}
}
