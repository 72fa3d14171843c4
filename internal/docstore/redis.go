package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/weekly-plan-dispatcher/internal/errors"
)

// RedisStore keeps each document as a JSON string under <prefix><collection>:<id>
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// ConnectRedis accepts either a redis:// URL or a plain host:port
func ConnectRedis(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func (s *RedisStore) key(collection, id string) string {
	return s.prefix + collection + ":" + id
}

func (s *RedisStore) Get(ctx context.Context, collection, id string, dst any) error {
	body, err := s.client.Get(ctx, s.key(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return notFound(collection, id)
	}
	if err != nil {
		return err
	}
	return decodeDoc(body, dst)
}

func (s *RedisStore) Set(ctx context.Context, collection, id string, doc any, opts ...SetOption) error {
	o := collectOptions(opts)
	if o.merge {
		return s.RunTransaction(ctx, func(tx Tx) error {
			return tx.Set(ctx, collection, id, doc, opts...)
		})
	}
	body, err := encodeDoc(nil, false, doc, o)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(collection, id), body, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	return s.client.Del(ctx, s.key(collection, id)).Err()
}

// RunTransaction watches every key fn reads and applies fn's writes in one
// MULTI/EXEC. A watched key changing underneath surfaces as ErrConflict.
func (s *RedisStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		t := &redisTx{store: s, rtx: rtx, staged: make(map[string][]byte), deleted: make(map[string]bool)}
		if err := fn(t); err != nil {
			return err
		}
		if len(t.staged) == 0 && len(t.deleted) == 0 {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for k := range t.deleted {
				p.Del(ctx, k)
			}
			for k, body := range t.staged {
				p.Set(ctx, k, body, 0)
			}
			return nil
		})
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("redis transaction: %w", appErrors.ErrConflict)
	}
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisTx struct {
	store   *RedisStore
	rtx     *redis.Tx
	staged  map[string][]byte
	deleted map[string]bool
}

func (t *redisTx) read(ctx context.Context, k string) ([]byte, bool, error) {
	if t.deleted[k] {
		return nil, false, nil
	}
	if body, ok := t.staged[k]; ok {
		return body, true, nil
	}
	if err := t.rtx.Watch(ctx, k).Err(); err != nil {
		return nil, false, err
	}
	body, err := t.rtx.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (t *redisTx) Get(ctx context.Context, collection, id string, dst any) error {
	body, found, err := t.read(ctx, t.store.key(collection, id))
	if err != nil {
		return err
	}
	if !found {
		return notFound(collection, id)
	}
	return decodeDoc(body, dst)
}

func (t *redisTx) Set(ctx context.Context, collection, id string, doc any, opts ...SetOption) error {
	o := collectOptions(opts)
	k := t.store.key(collection, id)

	var existing []byte
	found := false
	if o.merge {
		var err error
		if existing, found, err = t.read(ctx, k); err != nil {
			return err
		}
	}
	body, err := encodeDoc(existing, found, doc, o)
	if err != nil {
		return err
	}
	delete(t.deleted, k)
	t.staged[k] = body
	return nil
}

func (t *redisTx) Delete(_ context.Context, collection, id string) error {
	k := t.store.key(collection, id)
	delete(t.staged, k)
	t.deleted[k] = true
	return nil
}
