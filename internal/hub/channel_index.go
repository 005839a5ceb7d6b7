package hub

import "sync"

// channelIndex maintains channel name -> member Session lookups. A
// broadcast copies a channel's members once under the read lock
// (snapshot), so its hot path never takes a lock per recipient.
//
// A plain mutex-guarded map, not an atomic.Value-of-snapshot scheme:
// duelcore's channels top out at two participants (a battle) or a
// clan roster (tens of members), not thousands of subscribers, so
// lock-free snapshotting would buy nothing here.
type channelIndex struct {
	mu      sync.RWMutex
	members map[string]map[string]*Session // channel -> player_id -> Session
}

func newChannelIndex() *channelIndex {
	return &channelIndex{members: make(map[string]map[string]*Session)}
}

func (ci *channelIndex) add(channel string, sess *Session) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	set, ok := ci.members[channel]
	if !ok {
		set = make(map[string]*Session)
		ci.members[channel] = set
	}
	set[sess.playerID] = sess
}

func (ci *channelIndex) remove(channel string, playerID string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	set, ok := ci.members[channel]
	if !ok {
		return
	}
	delete(set, playerID)
	if len(set) == 0 {
		delete(ci.members, channel)
	}
}

// removeEverywhere drops playerID from every channel it belongs to,
// using the caller-supplied channel list (the Session's own
// SubscriptionSet) rather than scanning the whole index.
func (ci *channelIndex) removeEverywhere(playerID string, channels []string) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	for _, channel := range channels {
		set, ok := ci.members[channel]
		if !ok {
			continue
		}
		delete(set, playerID)
		if len(set) == 0 {
			delete(ci.members, channel)
		}
	}
}

// snapshot returns the current members of channel. Safe to iterate
// without further locking; callers must not mutate it.
func (ci *channelIndex) snapshot(channel string) []*Session {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	set, ok := ci.members[channel]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}
