// Package challenge implements direct player-to-player invitations
// that bypass the matchmaking queue and feed the battle coordinator
// directly.
package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"duelcore/internal/battle"
)

// ErrTargetOffline is returned when challenging a player with no live
// session.
var ErrTargetOffline = errors.New("challenge: target offline")

// PendingChallenge is one outstanding invitation awaiting a response.
type PendingChallenge struct {
	ChallengerID       string
	TargetID           string
	CreatedAt          time.Time
	ChallengerUsername string
	ChallengerTrophies int
}

// Presence is the narrow slice of hub.Hub the broker needs to check a
// target's liveness before emitting an invitation.
type Presence interface {
	IsOnline(playerID string) bool
}

// Notifier is the narrow slice of hub.Hub used to deliver challenge
// messages to both sides.
type Notifier interface {
	Send(playerID, msgType string, payload any)
}

// BattleCreator is the slice of battle.Coordinator the broker calls on
// accept. A battle-creation request carries both sides' snapshots,
// which the broker's caller (cmd/duelserver wiring) must supply since
// ChallengeBroker itself has no PlayerStore access.
type BattleCreator interface {
	Create(p1, p2 battle.ParticipantSnapshot, mode string) *battle.Battle
}

const reapWindow = 60 * time.Second

// Broker implements ChallengeBroker.
type Broker struct {
	presence Presence
	notifier Notifier
	creator  BattleCreator
	snapshot func(playerID string) (battle.ParticipantSnapshot, error)

	mu      sync.Mutex
	pending map[string]PendingChallenge // challenger_id -> PendingChallenge

	logger zerolog.Logger
}

// New wires a Broker. snapshot resolves a player_id to the
// ParticipantSnapshot the BattleCoordinator needs to create a duel
// (trophies/rating/deck), sourced from PlayerStore by the caller.
func New(presence Presence, notifier Notifier, creator BattleCreator, snapshot func(string) (battle.ParticipantSnapshot, error), logger zerolog.Logger) *Broker {
	return &Broker{
		presence: presence,
		notifier: notifier,
		creator:  creator,
		snapshot: snapshot,
		pending:  make(map[string]PendingChallenge),
		logger:   logger,
	}
}

// Challenge requires the target to be online, overwrites any prior
// pending invitation by the same challenger, and notifies both sides.
func (b *Broker) Challenge(challengerID, challengerUsername string, challengerTrophies int, targetID string) error {
	if !b.presence.IsOnline(targetID) {
		return ErrTargetOffline
	}

	pc := PendingChallenge{
		ChallengerID:       challengerID,
		TargetID:           targetID,
		CreatedAt:          time.Now(),
		ChallengerUsername: challengerUsername,
		ChallengerTrophies: challengerTrophies,
	}

	b.mu.Lock()
	b.pending[challengerID] = pc
	b.mu.Unlock()

	b.notifier.Send(targetID, "challenge_received", map[string]any{
		"challenger_id":       challengerID,
		"challenger_username": challengerUsername,
		"challenger_trophies": challengerTrophies,
	})
	b.notifier.Send(challengerID, "challenge_sent", map[string]any{"target_id": targetID})
	return nil
}

// Respond removes the pending record and, on accept, creates a Battle
// (mode=pvp) and notifies both sides of the assigned battle_id.
func (b *Broker) Respond(targetID, challengerID string, accepted bool) {
	b.mu.Lock()
	pc, ok := b.pending[challengerID]
	if ok && pc.TargetID == targetID {
		delete(b.pending, challengerID)
	}
	b.mu.Unlock()
	if !ok || pc.TargetID != targetID {
		return
	}

	if !accepted {
		b.notifier.Send(challengerID, "challenge_declined", map[string]string{"target_id": targetID})
		return
	}

	p1, err := b.snapshot(challengerID)
	if err != nil {
		b.logger.Error().Err(err).Str("player_id", challengerID).Msg("challenge accept: snapshot failed")
		return
	}
	p2, err := b.snapshot(targetID)
	if err != nil {
		b.logger.Error().Err(err).Str("player_id", targetID).Msg("challenge accept: snapshot failed")
		return
	}

	bt := b.creator.Create(p1, p2, "pvp")

	b.notifier.Send(challengerID, "challenge_accepted", map[string]any{"battle_id": bt.ID, "you_are": "player1"})
	b.notifier.Send(targetID, "challenge_accepted", map[string]any{"battle_id": bt.ID, "you_are": "player2"})
}

// Cancel removes the challenger's pending record and notifies both
// sides.
func (b *Broker) Cancel(challengerID string) {
	b.mu.Lock()
	pc, ok := b.pending[challengerID]
	if ok {
		delete(b.pending, challengerID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	b.notifier.Send(challengerID, "challenge_cancelled", map[string]string{"target_id": pc.TargetID})
	b.notifier.Send(pc.TargetID, "challenge_cancelled", map[string]string{"challenger_id": challengerID})
}

// Run reaps challenges older than the 60-second expiry window on each
// tick, matching the Matchmaker's ticker-goroutine idiom.
func (b *Broker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.reap()
		}
	}
}

func (b *Broker) reap() {
	now := time.Now()
	var expired []PendingChallenge

	b.mu.Lock()
	for challengerID, pc := range b.pending {
		if now.Sub(pc.CreatedAt) > reapWindow {
			expired = append(expired, pc)
			delete(b.pending, challengerID)
		}
	}
	b.mu.Unlock()

	for _, pc := range expired {
		b.notifier.Send(pc.ChallengerID, "challenge_expired", map[string]string{"target_id": pc.TargetID})
	}
}

// handleRequest decodes a challenge_player/challenge_response/
// cancel_challenge request envelope.
type handleRequest struct {
	TargetID     string `json:"target_id"`
	ChallengerID string `json:"challenger_id"`
	Accepted     bool   `json:"accepted"`
}

// HandleChallenge adapts the hub.HandlerFunc shape to Challenge. The
// challenger's username/trophies are resolved via snapshot rather than
// trusted from the client.
func (b *Broker) HandleChallenge(playerID string, data json.RawMessage) {
	var req handleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	snap, err := b.snapshot(playerID)
	if err != nil {
		return
	}
	_ = b.Challenge(playerID, snap.Username, snap.Trophies, req.TargetID)
}

// HandleRespond adapts the hub.HandlerFunc shape to Respond.
func (b *Broker) HandleRespond(playerID string, data json.RawMessage) {
	var req handleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	b.Respond(playerID, req.ChallengerID, req.Accepted)
}

// HandleCancel adapts the hub.HandlerFunc shape to Cancel.
func (b *Broker) HandleCancel(playerID string, _ json.RawMessage) {
	b.Cancel(playerID)
}
