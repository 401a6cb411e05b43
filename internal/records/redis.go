package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "reviewsync:"

// Redis is a record store in a Redis server. Records are JSON values with a
// set of names per kind; saves run in WATCH/MULTI transactions.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a record store from a redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisClient(redis.NewClient(opts)), nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: defaultRedisPrefix}
}

func (r *Redis) key(name string) string   { return r.prefix + "record:" + name }
func (r *Redis) kindKey(kind Kind) string { return r.prefix + "kind:" + string(kind) }

func (r *Redis) Status(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) get(ctx context.Context, c getter, name string) (*Record, error) {
	data, err := c.Get(ctx, r.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUnknownRecord
		}
		return nil, err
	}
	return decodeRecord(data)
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = make(map[string]any)
	}
	return &rec, nil
}

func (r *Redis) Fetch(ctx context.Context, name string) (*Record, error) {
	return r.get(ctx, r.client, name)
}

func (r *Redis) Save(ctx context.Context, rec *Record, keys []string) (*Record, error) {
	var out *Record
	txf := func(tx *redis.Tx) error {
		current, err := r.get(ctx, tx, rec.Name)
		if err != nil && !errors.Is(err, ErrUnknownRecord) {
			return err
		}
		out, err = prepareSave(current, rec, keys, time.Now().UTC())
		if err != nil {
			return err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.Name, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key(out.Name), data, 0)
			pipe.SAdd(ctx, r.kindKey(out.Kind), out.Name)
			return nil
		})
		return err
	}

	if err := r.client.Watch(ctx, txf, r.key(rec.Name)); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, ErrServerRecordChanged
		}
		return nil, err
	}
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, name string) error {
	current, err := r.get(ctx, r.client, name)
	if err != nil {
		if errors.Is(err, ErrUnknownRecord) {
			return nil
		}
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(name))
		pipe.SRem(ctx, r.kindKey(current.Kind), name)
		return nil
	})
	return err
}

func (r *Redis) Query(ctx context.Context, kind Kind, pred *Predicate) ([]*Record, error) {
	names, err := r.client.SMembers(ctx, r.kindKey(kind)).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	slices.Sort(names)

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = r.key(name)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	recs := make([]*Record, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // index entry without a record
		}
		rec, err := decodeRecord([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", names[i], err)
		}
		if rec.Kind != kind {
			continue
		}
		recs = append(recs, rec)
	}
	return filter(recs, pred), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
