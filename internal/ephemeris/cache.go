package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const cacheKeyPrefix = "vt:"

// Cache stores raw vector table text on disk so repeated range selections
// do not hit Horizons again. Entries expire after the configured max age.
type Cache struct {
	db       *badger.DB
	maxAge   time.Duration
	inMemory bool
	logger   *slog.Logger
}

// OpenCache opens (or creates) a cache in dir. An empty dir keeps the cache
// in memory only.
func OpenCache(dir string, maxAge time.Duration, logger *slog.Logger) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening ephemeris cache: %w", err)
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Cache{db: db, maxAge: maxAge, inMemory: dir == "", logger: logger}, nil
}

// CacheKey builds the key for one body's table over a range.
func CacheKey(q Query) string {
	return cacheKeyPrefix + strings.Join([]string{q.Command, q.Center, q.Range.Key()}, "|")
}

// Get returns the cached text for key. A missing or expired entry returns ok=false.
func (c *Cache) Get(key string) (string, bool, error) {
	var text string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			text = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache entry: %w", err)
	}
	return text, true, nil
}

// Put stores text under key with the cache's max age.
func (c *Cache) Put(key, text string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), []byte(text)).WithTTL(c.maxAge)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Cache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	var n int
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(cacheKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// gcDiscardRatio is the share of stale data a value log file needs before
// badger rewrites it.
const gcDiscardRatio = 0.5

// CollectGarbage rewrites value log files until badger reports nothing
// left to reclaim. It returns how many files were rewritten.
func (c *Cache) CollectGarbage() (int, error) {
	if c.inMemory {
		return 0, nil
	}
	n := 0
	for {
		err := c.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("cache value log gc: %w", err)
		}
		n++
	}
}

// GCService periodically reclaims space held by expired entries. It
// implements suture.Service.
type GCService struct {
	Cache    *Cache
	Interval time.Duration
}

// Serve runs garbage collection every Interval until ctx is cancelled.
func (s *GCService) Serve(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.Cache.CollectGarbage()
			if err != nil {
				s.Cache.logger.Warn("ephemeris cache gc failed", "component", "cache", "error", err)
				continue
			}
			if n > 0 {
				s.Cache.logger.Info("ephemeris cache gc", "component", "cache", "rewritten_files", n, "entries", s.Cache.Len())
			}
		}
	}
}

func (s *GCService) String() string {
	return "ephemeris-cache-gc"
}

// Close flushes and closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// badgerLogger routes badger's internal logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
