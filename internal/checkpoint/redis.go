package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisHash is the hash holding one field per scope.
const DefaultRedisHash = "vacuum:checkpoints"

// saveScript replaces the field only when the stored checkpoint is not newer.
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local c = cjson.decode(cur)
  if tonumber(c.last_commit_seq) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)

// RedisStore keeps checkpoints in a redis hash.
type RedisStore struct {
	client redis.UniversalClient
	hash   string
}

// NewRedisStore returns a Store backed by client. An empty hash selects
// DefaultRedisHash.
func NewRedisStore(client redis.UniversalClient, hash string) *RedisStore {
	if hash == "" {
		hash = DefaultRedisHash
	}
	return &RedisStore{client: client, hash: hash}
}

func (s *RedisStore) Load(ctx context.Context, scopeID string) (Checkpoint, bool, error) {
	if scopeID == "" {
		return Checkpoint{}, false, ErrInvalidScope
	}
	raw, err := s.client.HGet(ctx, s.hash, scopeID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint: redis get %s: %w", scopeID, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("checkpoint: decode %s: %w", scopeID, err)
	}
	return cp, true, nil
}

func (s *RedisStore) Save(ctx context.Context, cp Checkpoint) error {
	cp, err := stamp(cp)
	if err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	err = saveScript.Run(ctx, s.client, []string{s.hash}, cp.ScopeID, cp.LastCommitSeq, data).Err()
	if err != nil {
		return fmt.Errorf("checkpoint: redis save %s: %w", cp.ScopeID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, scopeID string) error {
	if scopeID == "" {
		return ErrInvalidScope
	}
	if err := s.client.HDel(ctx, s.hash, scopeID).Err(); err != nil {
		return fmt.Errorf("checkpoint: redis delete %s: %w", scopeID, err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
