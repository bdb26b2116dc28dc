package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"quill/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	presenceOnlineKey     = "quill:presence:online"
	presenceSeenKeyPrefix = "quill:presence:seen:"

	// The seen key must outlive the ping period so idle sockets stay online.
	defaultSeenTTL        = 90 * time.Second
	defaultOfflineGrace   = 5 * time.Second
	defaultReaperInterval = time.Minute
)

// PresenceConfig tunes presence tracking. Zero values take the defaults.
type PresenceConfig struct {
	SeenTTL        time.Duration
	OfflineGrace   time.Duration
	ReaperInterval time.Duration
}

// Presence tracks which users hold a notification socket. Local sockets are
// counted in memory; with Redis, a per-user seen key shared by every
// instance answers for sockets held elsewhere. A user goes offline once
// their last socket has been gone for the grace period, which absorbs page
// reloads.
type Presence struct {
	rdb *redis.Client

	mu        sync.Mutex
	local     map[string]int
	lastSeen  map[string]time.Time
	timers    map[string]*time.Timer
	onOffline func(userID string, lastSeen time.Time)

	seenTTL      time.Duration
	offlineGrace time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewPresence starts a reaper for stale Redis entries when rdb is set.
func NewPresence(rdb *redis.Client, cfg PresenceConfig) *Presence {
	p := &Presence{
		rdb:          rdb,
		local:        make(map[string]int),
		lastSeen:     make(map[string]time.Time),
		timers:       make(map[string]*time.Timer),
		seenTTL:      defaultSeenTTL,
		offlineGrace: defaultOfflineGrace,
		stop:         make(chan struct{}),
	}
	if cfg.SeenTTL > 0 {
		p.seenTTL = cfg.SeenTTL
	}
	if cfg.OfflineGrace > 0 {
		p.offlineGrace = cfg.OfflineGrace
	}
	interval := cfg.ReaperInterval
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	if rdb != nil {
		go p.reapEvery(interval)
	}
	return p
}

// OnOffline installs the hook run when a user's last socket is gone for
// good. lastSeen is the last time the user was heard from.
func (p *Presence) OnOffline(fn func(userID string, lastSeen time.Time)) {
	p.mu.Lock()
	p.onOffline = fn
	p.mu.Unlock()
}

// Connected records a new socket for userID.
func (p *Presence) Connected(ctx context.Context, userID string) {
	p.mu.Lock()
	if t, ok := p.timers[userID]; ok {
		t.Stop()
		delete(p.timers, userID)
	}
	p.local[userID]++
	p.mu.Unlock()

	p.Seen(ctx, userID)
}

// Seen refreshes userID's presence. Sockets call it on every inbound frame
// and pong.
func (p *Presence) Seen(ctx context.Context, userID string) {
	now := time.Now().UTC()
	p.mu.Lock()
	p.lastSeen[userID] = now
	p.mu.Unlock()

	if p.rdb == nil {
		return
	}
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, presenceOnlineKey, userID)
		pipe.Set(ctx, seenKey(userID), strconv.FormatInt(now.Unix(), 10), p.seenTTL)
		return nil
	})
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence refresh failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

// Disconnected drops one socket. The offline hook fires after the grace
// period unless the user reconnects first.
func (p *Presence) Disconnected(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := p.local[userID]; n > 1 {
		p.local[userID] = n - 1
		return
	}
	delete(p.local, userID)

	if t, ok := p.timers[userID]; ok {
		t.Stop()
	}
	p.timers[userID] = time.AfterFunc(p.offlineGrace, func() {
		p.finalize(userID)
	})
}

// IsOnline reports whether userID holds a socket on any instance. A Redis
// error counts as online so deliveries are not dropped on a blip.
func (p *Presence) IsOnline(ctx context.Context, userID string) bool {
	p.mu.Lock()
	n := p.local[userID]
	p.mu.Unlock()
	if n > 0 {
		return true
	}
	if p.rdb == nil {
		return false
	}

	exists, err := p.rdb.Exists(ctx, seenKey(userID)).Result()
	if err != nil {
		return true
	}
	return exists > 0
}

// Stop halts the reaper and any pending offline timers.
func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.mu.Lock()
		for uid, t := range p.timers {
			t.Stop()
			delete(p.timers, uid)
		}
		p.mu.Unlock()
	})
}

// finalize leaves the Redis seen key to expire, since another instance may
// still hold a socket for the user.
func (p *Presence) finalize(userID string) {
	p.mu.Lock()
	delete(p.timers, userID)
	if p.local[userID] > 0 {
		p.mu.Unlock()
		return
	}
	seen := p.lastSeen[userID]
	delete(p.lastSeen, userID)
	fn := p.onOffline
	p.mu.Unlock()

	if fn != nil {
		fn(userID, seen)
	}
}

// reapOnce drops online-set members whose seen key expired, which happens
// when an instance dies without closing its sockets.
func (p *Presence) reapOnce(ctx context.Context) int {
	members, err := p.rdb.SMembers(ctx, presenceOnlineKey).Result()
	if err != nil {
		return 0
	}
	reaped := 0
	for _, uid := range members {
		exists, err := p.rdb.Exists(ctx, seenKey(uid)).Result()
		if err != nil || exists > 0 {
			continue
		}
		p.mu.Lock()
		held := p.local[uid] > 0
		p.mu.Unlock()
		if held {
			continue
		}
		if err := p.rdb.SRem(ctx, presenceOnlineKey, uid).Err(); err == nil {
			reaped++
		}
	}
	return reaped
}

func (p *Presence) reapEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reapOnce(context.Background())
		}
	}
}

func seenKey(userID string) string {
	return presenceSeenKeyPrefix + userID
}
