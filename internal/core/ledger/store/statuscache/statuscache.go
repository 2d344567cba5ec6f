// Package statuscache decorates a ledger.Store with a redis cache of bill
// tallies. Recording a payment evicts the tally of its bill once the
// transaction commits and bumps a per bill version. A tally read from the
// store is only cached if that version did not move while it was read.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rschio/milkbill/internal/core/ledger"
)

const (
	keyPrefix     = "milkbill:tally:"
	versionPrefix = "milkbill:tallyver:"
)

var _ ledger.Store = (*Store)(nil)

var errStale = errors.New("tally changed while read")

// Store caches QueryTally of the wrapped store. Every other method is
// delegated as is.
type Store struct {
	ledger.Store
	log *slog.Logger
	rdb redis.UniversalClient
	ttl time.Duration

	// evict collects, inside a transaction, the bills to evict after commit.
	evict *[]uuid.UUID
}

// NewStore wraps store with a cache kept in rdb for ttl.
func NewStore(log *slog.Logger, store ledger.Store, rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{
		Store: store,
		log:   log,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// Ping checks the connection to redis.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) ExecUnderTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	if s.evict != nil {
		return s.Store.ExecUnderTx(ctx, func(tx ledger.Store) error {
			return fn(&Store{Store: tx, log: s.log, rdb: s.rdb, ttl: s.ttl, evict: s.evict})
		})
	}

	var evict []uuid.UUID
	err := s.Store.ExecUnderTx(ctx, func(tx ledger.Store) error {
		return fn(&Store{Store: tx, log: s.log, rdb: s.rdb, ttl: s.ttl, evict: &evict})
	})
	if err != nil {
		return err
	}

	for _, billID := range evict {
		s.evictBill(ctx, billID)
	}
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, p ledger.Payment) error {
	if err := s.Store.CreatePayment(ctx, p); err != nil {
		return err
	}

	if s.evict != nil {
		*s.evict = append(*s.evict, p.BillID)
		return nil
	}
	s.evictBill(ctx, p.BillID)
	return nil
}

func (s *Store) QueryTally(ctx context.Context, billID uuid.UUID) (ledger.Tally, error) {
	// Inside a transaction the cache could hide uncommitted writes.
	if s.evict != nil {
		return s.Store.QueryTally(ctx, billID)
	}

	key := keyPrefix + billID.String()
	verKey := versionPrefix + billID.String()

	// The version is read along with the entry so a miss knows which
	// version the store read below must still match.
	vals, err := s.rdb.MGet(ctx, key, verKey).Result()
	if err != nil {
		s.log.WarnContext(ctx, "statuscache: get", "key", key, "ERROR", err)
		return s.Store.QueryTally(ctx, billID)
	}

	version, _ := vals[1].(string)
	if cached, ok := vals[0].(string); ok {
		var t ledger.Tally
		if err := json.Unmarshal([]byte(cached), &t); err == nil {
			return t, nil
		}
		s.log.WarnContext(ctx, "statuscache: corrupt entry", "key", key)
	}

	t, err := s.Store.QueryTally(ctx, billID)
	if err != nil {
		return ledger.Tally{}, err
	}

	bs, err := json.Marshal(t)
	if err != nil {
		s.log.WarnContext(ctx, "statuscache: encode", "key", key, "ERROR", err)
		return t, nil
	}
	s.set(ctx, key, verKey, version, bs)

	return t, nil
}

// set stores bs under key unless the version in verKey changed from version.
func (s *Store) set(ctx context.Context, key, verKey, version string, bs []byte) {
	fn := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, verKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return errStale
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, bs, s.ttl)
			return nil
		})
		return err
	}

	err := s.rdb.Watch(ctx, fn, verKey)
	switch {
	case err == nil:
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		s.log.DebugContext(ctx, "statuscache: skip stale entry", "key", key)
	default:
		s.log.WarnContext(ctx, "statuscache: set", "key", key, "ERROR", err)
	}
}

// evictBill drops the cached tally of billID and bumps its version so reads
// in flight do not cache what they read before the eviction.
func (s *Store) evictBill(ctx context.Context, billID uuid.UUID) {
	key := keyPrefix + billID.String()
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, versionPrefix+billID.String())
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		s.log.WarnContext(ctx, "statuscache: evict", "key", key, "ERROR", err)
	}
}
