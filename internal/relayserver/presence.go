package relayserver

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PASBarbari/Trascendence-sub000/internal/config"
)

// Presence records which peers occupy which room. The hub is the source of
// truth for forwarding; presence is the view exposed to operators and to
// other relay instances sharing a Redis.
type Presence interface {
	Join(ctx context.Context, roomID, peerID string) error
	Leave(ctx context.Context, roomID, peerID string) error
	Peers(ctx context.Context, roomID string) ([]string, error)
	Close() error
}

// NewPresence picks Redis when an address is configured and an in-memory
// store otherwise.
func NewPresence(ctx context.Context, cfg config.RelayConfig) (Presence, error) {
	if cfg.RedisAddr == "" {
		return NewMemoryPresence(), nil
	}
	return NewRedisPresence(ctx, &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.PresenceTTL)
}

type MemoryPresence struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[string]map[string]struct{})}
}

func (p *MemoryPresence) Join(_ context.Context, roomID, peerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	peers, ok := p.rooms[roomID]
	if !ok {
		peers = make(map[string]struct{})
		p.rooms[roomID] = peers
	}
	peers[peerID] = struct{}{}
	return nil
}

func (p *MemoryPresence) Leave(_ context.Context, roomID, peerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	peers := p.rooms[roomID]
	delete(peers, peerID)
	if len(peers) == 0 {
		delete(p.rooms, roomID)
	}
	return nil
}

func (p *MemoryPresence) Peers(_ context.Context, roomID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.rooms[roomID]))
	for id := range p.rooms[roomID] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (p *MemoryPresence) Close() error { return nil }

// RedisPresence keeps one set per room. Every join refreshes the set's TTL so
// rooms abandoned by a crashed relay expire on their own.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresence connects and pings the server before returning.
func NewRedisPresence(ctx context.Context, opts *redis.Options, ttl time.Duration) (*RedisPresence, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	if ttl <= 0 {
		ttl = config.DefaultRelayPresenceTTL
	}
	return &RedisPresence{client: client, ttl: ttl}, nil
}

func presenceKey(roomID string) string {
	return "pong:room:" + roomID + ":peers"
}

func (p *RedisPresence) Join(ctx context.Context, roomID, peerID string) error {
	key := presenceKey(roomID)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, peerID)
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence join %s: %w", roomID, err)
	}
	return nil
}

func (p *RedisPresence) Leave(ctx context.Context, roomID, peerID string) error {
	if err := p.client.SRem(ctx, presenceKey(roomID), peerID).Err(); err != nil {
		return fmt.Errorf("presence leave %s: %w", roomID, err)
	}
	return nil
}

func (p *RedisPresence) Peers(ctx context.Context, roomID string) ([]string, error) {
	peers, err := p.client.SMembers(ctx, presenceKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence peers %s: %w", roomID, err)
	}
	slices.Sort(peers)
	return peers, nil
}

func (p *RedisPresence) Close() error {
	return p.client.Close()
}
