// Package battle implements per-duel authoritative state, tower
// damage accounting, crown resolution, timers, and result synthesis
// feeding into ranking.Settle and playerstore.PlayerStore.
package battle

import (
	"encoding/json"
	"sync"
	"time"
)

// Phase is a Battle's position in its state machine.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// TowerTarget names one of a side's three towers.
type TowerTarget string

const (
	TargetKing  TowerTarget = "king"
	TargetLeft  TowerTarget = "left"
	TargetRight TowerTarget = "right"
)

const (
	kingHP          = 4000
	sideHP          = 2000
	defaultDuration = 180 * time.Second
	gracePeriod     = 30 * time.Second

	startingElixir  = 5.0
	elixirRate      = 1.0
	chaosElixirRate = 1.5
)

// ParticipantSnapshot captures a player's entering trophies and
// rating at duel creation, snapshotted so mid-battle changes to the
// player record can't retroactively alter settlement.
type ParticipantSnapshot struct {
	PlayerID string
	Username string
	Trophies int
	Rating   int
	Deck     []string
}

// TowerHP is the per-side tower state.
type TowerHP struct {
	King  int `json:"king"`
	Left  int `json:"left"`
	Right int `json:"right"`
}

func freshTowers() TowerHP {
	return TowerHP{King: kingHP, Left: sideHP, Right: sideHP}
}

// ActionRecord is one append-only relayed action.
type ActionRecord struct {
	PlayerID   string          `json:"player_id"`
	Timestamp  time.Time       `json:"timestamp"`
	BattleTime float64         `json:"battle_time"`
	Action     json.RawMessage `json:"action"`
}

// side indexes which of the two participants an operation addresses.
type side int

const (
	sideP1 side = iota
	sideP2
)

// Battle is the authoritative state of one in-progress duel.
type Battle struct {
	mu sync.Mutex

	ID   string
	Mode string

	P1 ParticipantSnapshot
	P2 ParticipantSnapshot

	Phase     Phase
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	TowerHPs   [2]TowerHP
	Crowns     [2]int
	Elixir     [2]float64
	ElixirRate float64

	Ready [2]bool

	WinnerID *string // nil until finished; nil for a draw too

	Actions []ActionRecord

	warned30 bool
	warned10 bool

	damageGuard [2]*damageGuard
}

func newBattle(id, mode string, p1, p2 ParticipantSnapshot, maxDamagePerSec float64) *Battle {
	rate := elixirRate
	if mode == "chaos" {
		rate = chaosElixirRate
	}
	return &Battle{
		ID:         id,
		Mode:       mode,
		P1:         p1,
		P2:         p2,
		Phase:      PhaseWaiting,
		Duration:   defaultDuration,
		TowerHPs:   [2]TowerHP{freshTowers(), freshTowers()},
		Elixir:     [2]float64{startingElixir, startingElixir},
		ElixirRate: rate,
		damageGuard: [2]*damageGuard{
			newDamageGuard(maxDamagePerSec),
			newDamageGuard(maxDamagePerSec),
		},
	}
}

func (b *Battle) sideOf(playerID string) (side, bool) {
	switch playerID {
	case b.P1.PlayerID:
		return sideP1, true
	case b.P2.PlayerID:
		return sideP2, true
	default:
		return 0, false
	}
}

// sideFromLabel resolves the wire-protocol side label ("player1" /
// "player2") a client sends in a tower_damage frame.
func sideFromLabel(label string) (side, bool) {
	switch label {
	case "player1":
		return sideP1, true
	case "player2":
		return sideP2, true
	default:
		return 0, false
	}
}

func (b *Battle) opponentOf(s side) side {
	if s == sideP1 {
		return sideP2
	}
	return sideP1
}

func (b *Battle) participant(s side) ParticipantSnapshot {
	if s == sideP1 {
		return b.P1
	}
	return b.P2
}

func (s side) int() int {
	if s == sideP1 {
		return 0
	}
	return 1
}

// label names a side the way the wire protocol does: "player1"/"player2".
func (s side) label() string {
	if s == sideP1 {
		return "player1"
	}
	return "player2"
}

// crownsFor computes the crown count one side has scored against the
// opposing towers: 3 if the opposing king has fallen, otherwise one
// crown per destroyed side tower.
func crownsFor(opposing TowerHP) int {
	if opposing.King <= 0 {
		return 3
	}
	crowns := 0
	if opposing.Left <= 0 {
		crowns++
	}
	if opposing.Right <= 0 {
		crowns++
	}
	return crowns
}

func clamp(hp, max int) int {
	if hp < 0 {
		return 0
	}
	if hp > max {
		return max
	}
	return hp
}
