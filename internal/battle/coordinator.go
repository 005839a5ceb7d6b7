package battle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"duelcore/internal/monitoring"
	"duelcore/internal/playerstore"
	"duelcore/internal/ranking"
)

// ErrBattleNotFound is returned by operations addressing an unknown
// battle_id, including a finished battle already torn down after its
// grace period.
var ErrBattleNotFound = errors.New("battle: not found")

// ErrNotParticipant is returned when playerID is not one of the
// battle's two sides.
var ErrNotParticipant = errors.New("battle: not a participant")

// Broadcaster is the slice of hub.Hub the coordinator depends on. Kept
// as a narrow interface (rather than importing *hub.Hub) so hub and
// battle form a DAG: hub takes BattleDisconnectNotifier, battle takes
// Broadcaster, neither package imports the other's concrete type.
type Broadcaster interface {
	Subscribe(playerID, channel string)
	Unsubscribe(playerID, channel string)
	Broadcast(channel, msgType string, payload any, exclude string)
	Send(playerID, msgType string, payload any)
}

// Coordinator owns the lifecycle of every in-progress duel.
type Coordinator struct {
	hub   Broadcaster
	store playerstore.PlayerStore

	maxDamagePerSecond float64

	mapMu   sync.RWMutex
	battles map[string]*Battle

	indexMu     sync.RWMutex
	playerIndex map[string]string // player_id -> battle_id

	logger zerolog.Logger
}

// New wires a Coordinator against its collaborators.
func New(hub Broadcaster, store playerstore.PlayerStore, maxDamagePerSecond float64, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		hub:                hub,
		store:              store,
		maxDamagePerSecond: maxDamagePerSecond,
		battles:            make(map[string]*Battle),
		playerIndex:        make(map[string]string),
		logger:             logger,
	}
}

// Create materializes a Battle for two matched (or challenged)
// players and auto-subscribes both to its channel.
func (c *Coordinator) Create(p1, p2 ParticipantSnapshot, mode string) *Battle {
	id := uuid.NewString()
	b := newBattle(id, mode, p1, p2, c.maxDamagePerSecond)

	c.mapMu.Lock()
	c.battles[id] = b
	c.mapMu.Unlock()

	c.indexMu.Lock()
	c.playerIndex[p1.PlayerID] = id
	c.playerIndex[p2.PlayerID] = id
	c.indexMu.Unlock()

	channel := "battle:" + id
	c.hub.Subscribe(p1.PlayerID, channel)
	c.hub.Subscribe(p2.PlayerID, channel)

	c.hub.Send(p1.PlayerID, "match_found", map[string]any{
		"battle_id": id,
		"mode":      mode,
		"you_are":   sideP1.label(),
		"opponent": map[string]any{
			"id":       p2.PlayerID,
			"trophies": p2.Trophies,
			"deck":     p2.Deck,
		},
	})
	c.hub.Send(p2.PlayerID, "match_found", map[string]any{
		"battle_id": id,
		"mode":      mode,
		"you_are":   sideP2.label(),
		"opponent": map[string]any{
			"id":       p1.PlayerID,
			"trophies": p1.Trophies,
			"deck":     p1.Deck,
		},
	})

	monitoring.BattlesActive.Inc()
	return b
}

func (c *Coordinator) battleByID(battleID string) (*Battle, bool) {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()
	b, ok := c.battles[battleID]
	return b, ok
}

func (c *Coordinator) battleForPlayer(playerID string) (*Battle, bool) {
	c.indexMu.RLock()
	battleID, ok := c.playerIndex[playerID]
	c.indexMu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.battleByID(battleID)
}

// channelOf returns the pub/sub channel name for a battle.
func channelOf(battleID string) string { return "battle:" + battleID }

// --- battle lifecycle operations ---------------------------------------------

// Ready sets a side's ready flag; when both are true the battle
// atomically transitions waiting->active.
func (c *Coordinator) Ready(battleID, playerID string) error {
	b, ok := c.battleByID(battleID)
	if !ok {
		return ErrBattleNotFound
	}

	b.mu.Lock()
	if b.Phase != PhaseWaiting {
		b.mu.Unlock()
		return nil // no-op in any other phase, per spec's "handlers are no-ops in finished"
	}
	s, ok := b.sideOf(playerID)
	if !ok {
		b.mu.Unlock()
		return ErrNotParticipant
	}
	b.Ready[s.int()] = true
	bothReady := b.Ready[0] && b.Ready[1]
	if bothReady {
		b.Phase = PhaseActive
		b.StartTime = time.Now()
	}
	duration := b.Duration
	elixirRate := b.ElixirRate
	startTime := b.StartTime
	b.mu.Unlock()

	if bothReady {
		c.hub.Broadcast(channelOf(battleID), "battle_start", map[string]any{
			"start_time":  startTime,
			"duration":    duration.Seconds(),
			"elixir_rate": elixirRate,
		}, "")
	}
	return nil
}

// battleIDRequest decodes the common {"battle_id": "..."} shape shared
// by "battle_ready" frames.
type battleIDRequest struct {
	BattleID string `json:"battle_id"`
}

// HandleReady adapts the hub.HandlerFunc shape to Ready.
func (c *Coordinator) HandleReady(playerID string, data json.RawMessage) {
	var req battleIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	_ = c.Ready(req.BattleID, playerID)
}

// battleEndRequest is the decoded payload for an inbound "battle_end"
// frame, which carries no battle_id: the player's live battle is
// located by lookup instead.
type battleEndRequest struct {
	Surrender bool `json:"surrender"`
}

// HandleBattleEnd adapts the hub.HandlerFunc shape to Surrender,
// locating the sender's current battle since battle_end frames don't
// carry a battle_id.
func (c *Coordinator) HandleBattleEnd(playerID string, data json.RawMessage) {
	var req battleEndRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if !req.Surrender {
		return
	}
	b, ok := c.battleForPlayer(playerID)
	if !ok {
		return
	}
	c.Surrender(b.ID, playerID)
}

// actionRequest is the decoded payload for an inbound "battle_action"
// frame.
type actionRequest struct {
	BattleID string          `json:"battle_id"`
	Action   json.RawMessage `json:"action"`
}

// HandleAction adapts the hub.HandlerFunc shape to Action.
func (c *Coordinator) HandleAction(playerID string, data json.RawMessage) {
	var req actionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	c.Action(req.BattleID, playerID, req.Action)
}

// Action appends and relays an action record while the battle is
// active; silently dropped otherwise.
func (c *Coordinator) Action(battleID, playerID string, action json.RawMessage) {
	b, ok := c.battleByID(battleID)
	if !ok {
		return
	}

	b.mu.Lock()
	if b.Phase != PhaseActive {
		b.mu.Unlock()
		return
	}
	s, ok := b.sideOf(playerID)
	if !ok {
		b.mu.Unlock()
		return
	}
	record := ActionRecord{
		PlayerID:   playerID,
		Timestamp:  time.Now(),
		BattleTime: time.Since(b.StartTime).Seconds(),
		Action:     action,
	}
	b.Actions = append(b.Actions, record)
	b.mu.Unlock()

	c.hub.Broadcast(channelOf(battleID), "battle_action", map[string]any{
		"action": action,
		"from":   s.label(),
	}, playerID)
}

// towerDamageRequest is the decoded payload for an inbound
// "tower_damage" frame.
type towerDamageRequest struct {
	BattleID     string      `json:"battle_id"`
	TargetPlayer string      `json:"target_player"`
	Target       TowerTarget `json:"target"`
	Damage       int         `json:"damage"`
}

// HandleTowerDamage adapts the hub.HandlerFunc shape to TowerDamage.
func (c *Coordinator) HandleTowerDamage(playerID string, data json.RawMessage) {
	var req towerDamageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	c.TowerDamage(req.BattleID, playerID, req.TargetPlayer, req.Target, req.Damage)
}

// TowerDamage applies a reported hit to one side's tower while the
// battle is active, clamping both the affected HP and (via the
// per-side damageGuard) the reported damage itself, recomputes crowns,
// and triggers termination on a decisive result.
func (c *Coordinator) TowerDamage(battleID, playerID, targetPlayer string, target TowerTarget, damage int) {
	b, ok := c.battleByID(battleID)
	if !ok {
		return
	}

	b.mu.Lock()
	if b.Phase != PhaseActive {
		b.mu.Unlock()
		return
	}
	attackerSide, ok := b.sideOf(playerID)
	if !ok {
		b.mu.Unlock()
		return
	}
	defenderSide, ok := sideFromLabel(targetPlayer)
	if !ok || defenderSide == attackerSide {
		b.mu.Unlock()
		return
	}

	guard := b.damageGuard[attackerSide.int()]
	granted, clamped := guard.allow(damage)
	if clamped && !guard.warnedOnce {
		guard.warnedOnce = true
		c.logger.Warn().
			Str("battle_id", battleID).
			Str("player_id", playerID).
			Int("requested", damage).
			Int("granted", granted).
			Msg("tower_damage exceeded rate budget, clamped")
	}

	defHP := &b.TowerHPs[defenderSide.int()]
	switch target {
	case TargetKing:
		defHP.King = clamp(defHP.King-granted, kingHP)
	case TargetLeft:
		defHP.Left = clamp(defHP.Left-granted, sideHP)
	case TargetRight:
		defHP.Right = clamp(defHP.Right-granted, sideHP)
	default:
		b.mu.Unlock()
		return
	}

	b.Crowns[attackerSide.int()] = crownsFor(*defHP)
	decisive := b.Crowns[attackerSide.int()] >= 3 || defHP.King <= 0
	snapshot := battleStateSnapshot(b)
	b.mu.Unlock()

	c.hub.Broadcast(channelOf(battleID), "battle_state", snapshot, "")

	if decisive {
		c.terminate(b, "crowns")
	}
}

// Surrender forces the opponent's crown count to 3 and terminates.
func (c *Coordinator) Surrender(battleID, playerID string) {
	b, ok := c.battleByID(battleID)
	if !ok {
		return
	}
	b.mu.Lock()
	if b.Phase != PhaseActive {
		b.mu.Unlock()
		return
	}
	s, ok := b.sideOf(playerID)
	if !ok {
		b.mu.Unlock()
		return
	}
	opponent := b.opponentOf(s)
	b.Crowns[opponent.int()] = 3
	b.mu.Unlock()

	c.terminate(b, "surrender")
}

// OnDisconnect implements hub.BattleDisconnectNotifier: if the player
// has a live battle, it is terminated with the opponent as winner.
func (c *Coordinator) OnDisconnect(playerID string) {
	b, ok := c.battleForPlayer(playerID)
	if !ok {
		return
	}
	b.mu.Lock()
	if b.Phase != PhaseActive && b.Phase != PhaseWaiting {
		b.mu.Unlock()
		return
	}
	s, ok := b.sideOf(playerID)
	if !ok {
		b.mu.Unlock()
		return
	}
	opponent := b.opponentOf(s)
	b.Crowns[opponent.int()] = 3
	b.mu.Unlock()

	c.terminate(b, "disconnect")
}

// Run drives the once-per-second tick over every active battle until
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
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
			c.tick()
		}
	}
}

func (c *Coordinator) tick() {
	c.mapMu.RLock()
	battles := make([]*Battle, 0, len(c.battles))
	for _, b := range c.battles {
		battles = append(battles, b)
	}
	c.mapMu.RUnlock()

	for _, b := range battles {
		c.tickOne(b)
	}
}

func (c *Coordinator) tickOne(b *Battle) {
	b.mu.Lock()
	if b.Phase != PhaseActive {
		b.mu.Unlock()
		return
	}
	elapsed := time.Since(b.StartTime)
	remaining := b.Duration - elapsed
	timedOut := remaining <= 0

	var warn30, warn10 bool
	if !timedOut {
		if remaining <= 30*time.Second && !b.warned30 {
			b.warned30 = true
			warn30 = true
		}
		if remaining <= 10*time.Second && !b.warned10 {
			b.warned10 = true
			warn10 = true
		}
	}
	battleID := b.ID
	b.mu.Unlock()

	if timedOut {
		c.terminate(b, "timeout")
		return
	}
	if warn30 {
		c.hub.Broadcast(channelOf(battleID), "time_warning", map[string]int{"remaining": 30}, "")
	}
	if warn10 {
		c.hub.Broadcast(channelOf(battleID), "time_warning", map[string]int{"remaining": 10}, "")
	}
}

// terminate runs the full termination procedure: resolve winner,
// settle ranking/gold, persist, notify, unsubscribe, schedule
// teardown.
func (c *Coordinator) terminate(b *Battle, reason string) {
	b.mu.Lock()
	if b.Phase == PhaseFinished {
		b.mu.Unlock()
		return
	}
	b.Phase = PhaseFinished
	b.EndTime = time.Now()

	p1Crowns, p2Crowns := b.Crowns[0], b.Crowns[1]
	p1HP, p2HP := b.TowerHPs[0].King, b.TowerHPs[1].King
	p1, p2 := b.P1, b.P2
	battleID := b.ID
	b.mu.Unlock()

	var winnerID *string
	switch {
	case p1Crowns > p2Crowns:
		winnerID = &p1.PlayerID
	case p2Crowns > p1Crowns:
		winnerID = &p2.PlayerID
	case p1HP > p2HP:
		winnerID = &p1.PlayerID
	case p2HP > p1HP:
		winnerID = &p2.PlayerID
		// else: full tie, winnerID stays nil (draw)
	}

	b.mu.Lock()
	b.WinnerID = winnerID
	b.mu.Unlock()

	var settlement ranking.Settlement
	var winner, loser ParticipantSnapshot
	draw := winnerID == nil
	if draw {
		settlement = ranking.SettleDraw()
	} else if *winnerID == p1.PlayerID {
		winner, loser = p1, p2
		settlement = ranking.Settle(p1.Rating, p2.Rating, p1Crowns)
	} else {
		winner, loser = p2, p1
		settlement = ranking.Settle(p2.Rating, p1.Rating, p2Crowns)
	}

	if draw {
		c.applyDraw(p1, p2, settlement)
	} else {
		c.applyResult(winner, loser, settlement)
	}

	timeout := reason == "timeout"
	c.hub.Send(p1.PlayerID, "battle_result", resultPayload(battleID, winnerID, p1Crowns, p2Crowns, timeout, p1, p1Crowns, settlement, draw, !draw && winner.PlayerID == p1.PlayerID))
	c.hub.Send(p2.PlayerID, "battle_result", resultPayload(battleID, winnerID, p1Crowns, p2Crowns, timeout, p2, p2Crowns, settlement, draw, !draw && winner.PlayerID == p2.PlayerID))

	channel := channelOf(battleID)
	c.hub.Unsubscribe(p1.PlayerID, channel)
	c.hub.Unsubscribe(p2.PlayerID, channel)

	c.indexMu.Lock()
	delete(c.playerIndex, p1.PlayerID)
	delete(c.playerIndex, p2.PlayerID)
	c.indexMu.Unlock()

	monitoring.BattlesActive.Dec()
	monitoring.BattlesFinished.WithLabelValues(reason).Inc()

	time.AfterFunc(gracePeriod, func() {
		c.mapMu.Lock()
		delete(c.battles, battleID)
		c.mapMu.Unlock()
	})
}

// resultPayload builds the battle_result frame sent to recipient, whose
// entering rating and own crown count determine its your_result block.
func resultPayload(battleID string, winnerID *string, p1Crowns, p2Crowns int, timeout bool, recipient ParticipantSnapshot, recipientCrowns int, s ranking.Settlement, draw bool, won bool) map[string]any {
	var trophyDelta, ratingDelta, gold int
	switch {
	case draw:
		trophyDelta, gold, ratingDelta = s.WinnerTrophyDelta, s.WinnerGold, 0
	case won:
		trophyDelta, gold, ratingDelta = s.WinnerTrophyDelta, s.WinnerGold, s.WinnerRatingDelta
	default:
		trophyDelta, gold, ratingDelta = s.LoserTrophyDelta, s.LoserGold, s.LoserRatingDelta
	}

	newElo := recipient.Rating + ratingDelta
	if newElo < 0 {
		newElo = 0
	}

	return map[string]any{
		"battle_id":      battleID,
		"winner_id":      winnerID,
		"player1_crowns": p1Crowns,
		"player2_crowns": p2Crowns,
		"timeout":        timeout,
		"your_result": map[string]any{
			"won":           won,
			"trophy_change": trophyDelta,
			"new_elo":       newElo,
			"crowns":        recipientCrowns,
			"gold_earned":   gold,
		},
	}
}

// applyResult persists the decisive outcome's deltas through
// PlayerStore, serialized per-player via its own locking.
func (c *Coordinator) applyResult(winner, loser ParticipantSnapshot, s ranking.Settlement) {
	c.settle(winner.PlayerID, s.WinnerTrophyDelta, s.WinnerRatingDelta, s.WinnerGold)
	c.settle(loser.PlayerID, s.LoserTrophyDelta, s.LoserRatingDelta, s.LoserGold)
}

func (c *Coordinator) applyDraw(p1, p2 ParticipantSnapshot, s ranking.Settlement) {
	c.settle(p1.PlayerID, s.WinnerTrophyDelta, 0, s.WinnerGold)
	c.settle(p2.PlayerID, s.LoserTrophyDelta, 0, s.LoserGold)
}

func (c *Coordinator) settle(playerID string, trophyDelta, ratingDelta, gold int) {
	record, err := c.store.Get(playerID)
	if err != nil {
		monitoring.SettlementFailures.Inc()
		c.logger.Error().Err(err).Str("player_id", playerID).Msg("settlement: player record not found")
		return
	}
	record.Trophies += trophyDelta
	if record.Trophies < 0 {
		record.Trophies = 0
	}
	record.Rating += ratingDelta
	if record.Rating < 0 {
		record.Rating = 0
	}
	record.Gold += gold

	if err := c.store.Save(record); err != nil {
		monitoring.SettlementFailures.Inc()
		c.logger.Error().Err(err).Str("player_id", playerID).Msg("settlement: save failed")
	}
}

func battleStateSnapshot(b *Battle) map[string]any {
	return map[string]any{
		"player1_hp":     b.TowerHPs[0],
		"player2_hp":     b.TowerHPs[1],
		"player1_crowns": b.Crowns[0],
		"player2_crowns": b.Crowns[1],
	}
}
