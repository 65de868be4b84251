package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	onlineKey  = "peers:online"
	peerPrefix = "peer:"
)

// leaveScript deletes the presence record only if it still belongs to the
// leaving connection.
var leaveScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "conn") == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// Presence mirrors relay registrations into Redis so other processes can see
// who is connected.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func peerKey(id models.PeerID) string {
	return peerPrefix + id
}

// Join records id as owned by connID, replacing any earlier record.
func (p *Presence) Join(ctx context.Context, rec models.PeerPresence) error {
	key := peerKey(rec.ID)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"conn", rec.ConnID,
			"addr", rec.RemoteAddr,
			"since", rec.ConnectedAt.Unix(),
		)
		pipe.Expire(ctx, key, p.ttl)
		pipe.SAdd(ctx, onlineKey, rec.ID)
		pipe.Expire(ctx, onlineKey, p.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record presence for %s: %w", rec.ID, err)
	}
	return nil
}

// Leave removes the record for id if connID still owns it. It reports
// whether anything was removed.
func (p *Presence) Leave(ctx context.Context, id models.PeerID, connID string) (bool, error) {
	n, err := leaveScript.Run(ctx, p.client, []string{peerKey(id), onlineKey}, connID, id).Int()
	if err != nil {
		return false, fmt.Errorf("failed to clear presence for %s: %w", id, err)
	}
	return n == 1, nil
}

func (p *Presence) Lookup(ctx context.Context, id models.PeerID) (*models.PeerPresence, error) {
	fields, err := p.client.HGetAll(ctx, peerKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, models.ErrPeerNotFound
	}

	since, err := strconv.ParseInt(fields["since"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt presence record for %s: %w", id, err)
	}
	return &models.PeerPresence{
		ID:          id,
		ConnID:      fields["conn"],
		RemoteAddr:  fields["addr"],
		ConnectedAt: time.Unix(since, 0).UTC(),
	}, nil
}

// Online lists ids recorded as connected, sorted.
func (p *Presence) Online(ctx context.Context) ([]models.PeerID, error) {
	ids, err := p.client.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
