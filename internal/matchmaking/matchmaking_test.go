package matchmaking

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestMatchmaker(onPair func(Pair)) *Matchmaker {
	if onPair == nil {
		onPair = func(Pair) {}
	}
	return New(onPair, zerolog.Nop())
}

func TestJoinQueueRejectsInvalidDeck(t *testing.T) {
	mm := newTestMatchmaker(nil)

	if err := mm.JoinQueue("p1", "pvp", 1000, 1000, nil); err != ErrInvalidDeck {
		t.Fatalf("empty deck: got %v, want ErrInvalidDeck", err)
	}
	if err := mm.JoinQueue("p1", "pvp", 1000, 1000, []string{"a", "a"}); err != ErrInvalidDeck {
		t.Fatalf("duplicate deck: got %v, want ErrInvalidDeck", err)
	}
	nineCards := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9"}
	if err := mm.JoinQueue("p1", "pvp", 1000, 1000, nineCards); err != ErrInvalidDeck {
		t.Fatalf("oversized deck: got %v, want ErrInvalidDeck", err)
	}
	if mm.Size("pvp") != 0 {
		t.Fatalf("queue state must be unchanged after a rejected join, got size %d", mm.Size("pvp"))
	}
}

func TestJoinQueueReplacesPriorEntry(t *testing.T) {
	mm := newTestMatchmaker(nil)
	deck := []string{"1", "2", "3"}

	mm.JoinQueue("p1", "pvp", 1000, 1000, deck)
	mm.JoinQueue("p1", "chaos", 1000, 1000, deck)

	if mm.Size("pvp") != 0 {
		t.Errorf("Size(pvp) = %d; want 0 (entry moved to chaos)", mm.Size("pvp"))
	}
	if mm.Size("chaos") != 1 {
		t.Errorf("Size(chaos) = %d; want 1", mm.Size("chaos"))
	}
}

func TestLeaveQueueIdempotent(t *testing.T) {
	mm := newTestMatchmaker(nil)
	mm.LeaveQueue("ghost")
	mm.JoinQueue("p1", "pvp", 1000, 1000, []string{"1"})
	mm.LeaveQueue("p1")
	mm.LeaveQueue("p1")
	if mm.Size("pvp") != 0 {
		t.Errorf("Size(pvp) = %d; want 0", mm.Size("pvp"))
	}
}

func TestTickPairsWithinTolerance(t *testing.T) {
	var pairs []Pair
	mm := newTestMatchmaker(func(p Pair) { pairs = append(pairs, p) })

	deck := []string{"1", "2", "3"}
	mm.JoinQueue("p1", "pvp", 1000, 1000, deck)
	mm.JoinQueue("p2", "pvp", 1010, 1005, deck)

	mm.tick()

	if len(pairs) != 1 {
		t.Fatalf("got %d pairs; want 1", len(pairs))
	}
	if mm.Size("pvp") != 0 {
		t.Errorf("both entries should be removed after pairing, got size %d", mm.Size("pvp"))
	}
}

func TestTickLeavesOutOfToleranceUnpaired(t *testing.T) {
	var pairs []Pair
	mm := newTestMatchmaker(func(p Pair) { pairs = append(pairs, p) })

	deck := []string{"1", "2", "3"}
	mm.JoinQueue("p1", "pvp", 0, 0, deck)
	mm.JoinQueue("p2", "pvp", 5000, 5000, deck)

	mm.tick()

	if len(pairs) != 0 {
		t.Fatalf("got %d pairs; want 0 (trophy gap exceeds fresh tolerance)", len(pairs))
	}
	if mm.Size("pvp") != 2 {
		t.Errorf("Size(pvp) = %d; want 2 (neither entry consumed)", mm.Size("pvp"))
	}
}

func TestEstimatedWaitHeuristic(t *testing.T) {
	mm := newTestMatchmaker(nil)
	deck := []string{"1"}
	if w := mm.EstimatedWait("nobody"); w != 0 {
		t.Errorf("EstimatedWait(unqueued) = %d; want 0", w)
	}
	mm.JoinQueue("p1", "pvp", 1000, 1000, deck)
	if w := mm.EstimatedWait("p1"); w != 10 {
		t.Errorf("EstimatedWait(solo) = %d; want 10 (max(5, 10*size(mode)))", w)
	}
}
