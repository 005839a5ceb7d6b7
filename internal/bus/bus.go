// Package bus wraps NATS as the optional cross-process backplane for
// Hub broadcasts. Hub publishes both channel and broadcast_all traffic
// but subscribes only to broadcast_all, so only broadcast_all traffic
// reaches players connected to a different process; a channel
// broadcast reaches the publishing process's own members only.
//
// Single-process deployments can run with an empty URL; Hub then
// behaves identically with no external dependency.
package bus

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	subjectChannelPrefix = "duelcore.channel."
	subjectBroadcastAll  = "duelcore.broadcast.all"
)

// Bus publishes and subscribes to the cross-process backplane.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials the configured NATS server. Returns a nil *Bus (not an
// error) when url is empty, so callers can treat "no backplane" as a
// normal, first-class mode rather than special-casing nil everywhere.
func Connect(url string, logger zerolog.Logger) (*Bus, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url, nats.Name("duelcore"), nats.NoEcho())
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Bus{conn: nc, logger: logger}, nil
}

// Close closes the underlying connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Close()
}

// PublishChannel fans a message out to every other process subscribed
// to the given local channel name.
func (b *Bus) PublishChannel(channel string, data []byte) {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Publish(subjectChannelPrefix+channel, data); err != nil {
		b.logger.Warn().Err(err).Str("channel", channel).Msg("bus publish failed")
	}
}

// PublishBroadcastAll fans a message out to every other process's
// connected sessions.
func (b *Bus) PublishBroadcastAll(data []byte) {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Publish(subjectBroadcastAll, data); err != nil {
		b.logger.Warn().Err(err).Msg("bus broadcast_all publish failed")
	}
}

// SubscribeChannel invokes fn for every message another process
// publishes to channel. The subscription lives for the lifetime of
// the connection.
func (b *Bus) SubscribeChannel(channel string, fn func(data []byte)) error {
	if b == nil || b.conn == nil {
		return nil
	}
	_, err := b.conn.Subscribe(subjectChannelPrefix+channel, func(msg *nats.Msg) {
		fn(msg.Data)
	})
	return err
}

// SubscribeBroadcastAll invokes fn for every cross-process
// broadcast_all message.
func (b *Bus) SubscribeBroadcastAll(fn func(data []byte)) error {
	if b == nil || b.conn == nil {
		return nil
	}
	_, err := b.conn.Subscribe(subjectBroadcastAll, func(msg *nats.Msg) {
		fn(msg.Data)
	})
	return err
}
