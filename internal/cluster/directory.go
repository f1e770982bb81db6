// Package cluster shares session locations between nodes through Valkey and
// relays messages and presence to the node that owns the target sessions.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/Vasu1712/scenyx-realtime/internal/config"
	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

const (
	sessionsKeyPrefix = "scenyx:sessions:"
	nodeChannelPrefix = "scenyx:node:"
	presenceChannel   = "scenyx:presence"
)

func sessionsKey(userID string) string { return sessionsKeyPrefix + userID }

func nodeChannel(nodeID string) string { return nodeChannelPrefix + nodeID }

// NewClient connects to the configured Valkey server.
func NewClient(cfg *config.Config) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.ValkeyAddr},
		Password:    cfg.ValkeyPassword,
		SelectDB:    cfg.ValkeyDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey at %s: %w", cfg.ValkeyAddr, err)
	}
	return client, nil
}

// Directory maps every user to the nodes holding their sessions.
// Each user is a hash of sessionID -> "nodeID|lastSeenUnix" that expires
// when none of the user's sessions heartbeat within ttl.
type Directory struct {
	client valkey.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewDirectory(client valkey.Client, ttl time.Duration) *Directory {
	return &Directory{client: client, ttl: ttl, now: time.Now}
}

func encodeEntry(nodeID string, seen time.Time) string {
	return nodeID + "|" + strconv.FormatInt(seen.Unix(), 10)
}

func decodeEntry(raw string) (string, time.Time, bool) {
	node, ts, ok := strings.Cut(raw, "|")
	if !ok || node == "" {
		return "", time.Time{}, false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return node, time.Unix(unix, 0), true
}

// Announce implements session.Mirror.
func (d *Directory) Announce(ctx context.Context, s models.Session) error {
	return d.put(ctx, s)
}

// Touch implements session.Mirror.
func (d *Directory) Touch(ctx context.Context, s models.Session) error {
	return d.put(ctx, s)
}

func (d *Directory) put(ctx context.Context, s models.Session) error {
	key := sessionsKey(s.UserID)
	hset := d.client.B().Hset().Key(key).FieldValue().FieldValue(s.ID, encodeEntry(s.NodeID, d.now())).Build()
	if err := d.client.Do(ctx, hset).Error(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	expire := d.client.B().Expire().Key(key).Seconds(int64(d.ttl / time.Second)).Build()
	if err := d.client.Do(ctx, expire).Error(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// Withdraw implements session.Mirror.
func (d *Directory) Withdraw(ctx context.Context, s models.Session) error {
	key := sessionsKey(s.UserID)
	if err := d.client.Do(ctx, d.client.B().Hdel().Key(key).Field(s.ID).Build()).Error(); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

// Nodes returns the distinct nodes with a fresh session for userID.
func (d *Directory) Nodes(ctx context.Context, userID string) ([]string, error) {
	entries, err := d.client.Do(ctx, d.client.B().Hgetall().Key(sessionsKey(userID)).Build()).AsStrMap()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hgetall sessions of %s: %w", userID, err)
	}
	return liveNodes(entries, d.now().Add(-d.ttl)), nil
}

// liveNodes picks the nodes whose entries were seen after cutoff.
func liveNodes(entries map[string]string, cutoff time.Time) []string {
	seen := make(map[string]struct{})
	for _, raw := range entries {
		node, at, ok := decodeEntry(raw)
		if !ok || at.Before(cutoff) {
			continue
		}
		seen[node] = struct{}{}
	}
	nodes := make([]string, 0, len(seen))
	for n := range seen {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}
