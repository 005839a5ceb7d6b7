// Command duelserver runs the card-battler real-time core: SessionHub,
// Matchmaker, BattleCoordinator, ChallengeBroker, and PresenceBroadcaster
// wired together behind one WebSocket endpoint.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gobwas/ws"

	_ "go.uber.org/automaxprocs"

	"duelcore/internal/auth"
	"duelcore/internal/battle"
	"duelcore/internal/bus"
	"duelcore/internal/challenge"
	"duelcore/internal/config"
	"duelcore/internal/hub"
	"duelcore/internal/limits"
	"duelcore/internal/matchmaking"
	"duelcore/internal/monitoring"
	"duelcore/internal/playerstore"
	"duelcore/internal/presence"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		panic(err)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if cfg.AutoSizeConnections {
		cfg.MaxConnections = limits.DetectMaxConnections()
		logger.Info().Int("max_connections", cfg.MaxConnections).Msg("sized connection ceiling from cgroup memory limit")
	}
	cfg.LogConfig(logger)

	store := playerstore.NewInMemoryStore()
	authMgr := auth.NewManager(cfg.TokenSigningSecret, 24*time.Hour)
	rateLimiter := limits.NewRateLimiter(100, 10)

	var messageBus *bus.Bus
	if cfg.NATSEnabled {
		messageBus, err = bus.Connect(cfg.NATSUrl, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS backplane unavailable, running single-process")
			messageBus = nil
		}
	}
	defer messageBus.Close()

	h := hub.New(authMgr, store, rateLimiter, messageBus, logger)

	coordinator := battle.New(h, store, cfg.MaxDamagePerSecond, logger)
	h.SetBattleNotifier(coordinator)

	mm := matchmaking.New(func(pair matchmaking.Pair) {
		p1, err1 := snapshotFor(store, pair.P1.PlayerID, pair.P1.Deck, pair.P1.Trophies, pair.P1.Rating)
		p2, err2 := snapshotFor(store, pair.P2.PlayerID, pair.P2.Deck, pair.P2.Trophies, pair.P2.Rating)
		if err1 != nil || err2 != nil {
			logger.Error().Msg("matchmaking pair: player snapshot lookup failed")
			return
		}
		coordinator.Create(p1, p2, pair.Mode)
	}, logger)

	broker := challenge.New(h, h, coordinator, func(playerID string) (battle.ParticipantSnapshot, error) {
		record, err := store.Get(playerID)
		if err != nil {
			return battle.ParticipantSnapshot{}, err
		}
		return snapshotFromRecord(record), nil
	}, logger)

	presenceSvc := presence.New(h, store)

	registerHandlers(h, mm, coordinator, broker, presenceSvc, store)

	var connCount int64
	resourceGuard := limits.NewResourceGuard(limits.ResourceGuardConfig{
		MaxConnections:     cfg.MaxConnections,
		MaxGoroutines:      cfg.MaxGoroutines,
		CPURejectThreshold: cfg.CPURejectThreshold,
		CPUPauseThreshold:  cfg.CPUPauseThreshold,
	}, logger, &connCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resourceGuard.StartMonitoring(ctx, cfg.MetricsInterval)
	go mm.Run(ctx, cfg.MatchTickInterval)
	go coordinator.Run(ctx, cfg.BattleTickInterval)
	go broker.Run(ctx, cfg.ChallengeReapInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		accept, reason := resourceGuard.ShouldAcceptConnection()
		if !accept {
			logger.Warn().Str("reason", reason).Msg("connection rejected")
			monitoring.ConnectionsFailed.Inc()
			http.Error(w, "server overloaded", http.StatusServiceUnavailable)
			return
		}
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			monitoring.ConnectionsFailed.Inc()
			return
		}
		atomic.AddInt64(&connCount, 1)
		go func() {
			defer atomic.AddInt64(&connCount, -1)
			h.Accept(conn)
		}()
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if resourceGuard.CurrentCPU() > cfg.CPUPauseThreshold {
			status = "degraded"
		}
		if resourceGuard.CurrentCPU() > cfg.CPURejectThreshold {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	mux.Handle("/metrics", monitoring.Handler())

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("duelserver listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func snapshotFromRecord(record *playerstore.PlayerRecord) battle.ParticipantSnapshot {
	deck := record.CurrentDeck
	if len(deck) == 0 {
		deck = record.Deck
	}
	return battle.ParticipantSnapshot{
		PlayerID: record.ID,
		Username: record.Username,
		Trophies: record.Trophies,
		Rating:   record.Rating,
		Deck:     deck,
	}
}

func snapshotFor(store playerstore.PlayerStore, playerID string, deck []string, trophies, rating int) (battle.ParticipantSnapshot, error) {
	record, err := store.Get(playerID)
	if err != nil {
		return battle.ParticipantSnapshot{}, err
	}
	snap := snapshotFromRecord(record)
	if len(deck) > 0 {
		snap.Deck = deck
	}
	return snap, nil
}

const maxChatMessageLen = 200

// registerHandlers wires every inbound message type to its owning
// component.
func registerHandlers(h *hub.Hub, mm *matchmaking.Matchmaker, coordinator *battle.Coordinator, broker *challenge.Broker, presenceSvc *presence.Broadcaster, store playerstore.PlayerStore) {
	h.RegisterHandler("queue_join", func(playerID string, data json.RawMessage) {
		var req struct {
			Mode string   `json:"mode"`
			Deck []string `json:"deck"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			h.Send(playerID, "error", map[string]string{"reason": "Invalid JSON"})
			return
		}
		record, err := store.Get(playerID)
		if err != nil {
			return
		}
		if err := mm.JoinQueue(playerID, req.Mode, record.Trophies, record.Rating, req.Deck); err != nil {
			h.Send(playerID, "error", map[string]string{"reason": err.Error()})
			return
		}
		h.Send(playerID, "queue_joined", map[string]any{
			"mode":     req.Mode,
			"position": mm.Position(playerID),
		})
	})

	h.RegisterHandler("queue_leave", func(playerID string, _ json.RawMessage) {
		success := mm.LeaveQueue(playerID)
		h.Send(playerID, "queue_left", map[string]any{"success": success})
	})

	h.RegisterHandler("battle_ready", coordinator.HandleReady)
	h.RegisterHandler("battle_action", coordinator.HandleAction)
	h.RegisterHandler("tower_damage", coordinator.HandleTowerDamage)
	h.RegisterHandler("battle_end", coordinator.HandleBattleEnd)

	h.RegisterHandler("challenge_player", broker.HandleChallenge)
	h.RegisterHandler("challenge_response", broker.HandleRespond)
	h.RegisterHandler("cancel_challenge", broker.HandleCancel)

	h.RegisterHandler("chat_send", func(playerID string, data json.RawMessage) {
		var req struct {
			Channel string  `json:"channel"`
			ClanID  *string `json:"clan_id"`
			Message string  `json:"message"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			h.Send(playerID, "error", map[string]string{"reason": "Invalid JSON"})
			return
		}
		message := req.Message
		if len(message) > maxChatMessageLen {
			message = message[:maxChatMessageLen]
		}
		if message == "" {
			return
		}

		record, err := store.Get(playerID)
		if err != nil {
			return
		}

		payload := map[string]any{
			"channel":     req.Channel,
			"sender_id":   playerID,
			"sender_name": record.Username,
			"message":     message,
			"timestamp":   time.Now().Unix(),
		}

		switch req.Channel {
		case "clan":
			clanID := req.ClanID
			if clanID == nil {
				clanID = record.ClanID
			}
			if clanID == nil {
				return
			}
			h.Broadcast("clan:"+*clanID, "chat_message", payload, "")
		default:
			h.BroadcastAll("chat_message", payload, "")
		}
	})

	h.RegisterHandler("subscribe", func(playerID string, data json.RawMessage) {
		var req struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(data, &req); err == nil {
			h.Subscribe(playerID, req.Channel)
		}
	})
	h.RegisterHandler("unsubscribe", func(playerID string, data json.RawMessage) {
		var req struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(data, &req); err == nil {
			h.Unsubscribe(playerID, req.Channel)
		}
	})

	h.RegisterHandler("get_online_players", func(playerID string, _ json.RawMessage) {
		h.Send(playerID, "online_players", map[string]any{
			"players": presenceSvc.OnlinePlayers(),
		})
	})
}
