package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront/internal/apperr"
	"github.com/ariefcatur/go-storefront/internal/catalog"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per shopper: field "productId|size" -> quantity.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

const fieldSep = "|"

func field(k Key) string { return k.ProductID + fieldSep + string(k.Size) }

func parseField(f string) (Key, bool) {
	i := strings.LastIndex(f, fieldSep)
	if i <= 0 {
		return Key{}, false
	}
	sz := catalog.Size(f[i+1:])
	if !sz.Valid() {
		return Key{}, false
	}
	return Key{ProductID: f[:i], Size: sz}, true
}

func (s *RedisStore) Load(ctx context.Context, userID string) ([]Line, error) {
	m, err := s.rdb.HGetAll(ctx, redisx.CartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return decodeLines(m), nil
}

// Update applies a under WATCH so concurrent edits from two sessions
// do not overwrite each other.
func (s *RedisStore) Update(ctx context.Context, userID string, a Action) ([]Line, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	key := redisx.CartKey(userID)
	var out []Line
	txf := func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		out = Apply(decodeLines(m), a)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			if len(out) == 0 {
				return nil
			}
			vals := make([]any, 0, len(out)*2)
			for _, l := range out {
				vals = append(vals, field(l.Key()), l.Quantity)
			}
			p.HSet(ctx, key, vals...)
			if s.ttl > 0 {
				p.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}
	for attempt := 0; attempt < 5; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update cart: %w", err)
		}
		return out, nil
	}
	return nil, apperr.Conflict(errors.New("cart modified concurrently"))
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, redisx.CartKey(userID)).Err()
}

// decodeLines turns a stored hash into lines sorted by product then size.
// Malformed fields are skipped.
func decodeLines(m map[string]string) []Line {
	out := make([]Line, 0, len(m))
	for f, v := range m {
		k, ok := parseField(f)
		if !ok {
			continue
		}
		q, err := strconv.Atoi(v)
		if err != nil || q <= 0 {
			continue
		}
		out = append(out, Line{ProductID: k.ProductID, Size: k.Size, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Size.Less(out[j].Size)
	})
	return out
}
