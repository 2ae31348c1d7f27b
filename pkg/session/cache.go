package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/bitdiff"
)

// Cache stores realized bitstreams keyed by design hash. Values are the
// text bits format, zstd-compressed. Safe for concurrent use.
type Cache struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// badgerLogger routes badger's printf-style logging into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.s.Debugf(format, args...) }

// OpenCache opens or creates a cache in dir. An empty dir gives an
// in-memory cache that lives until Close.
func OpenCache(dir string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("session: create cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(badgerLogger{s: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("session: open cache: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("session: zstd: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("session: zstd: %w", err)
	}
	return &Cache{db: db, enc: enc, dec: dec}, nil
}

// Get returns the bitstream cached under key.
func (c *Cache) Get(key string) (*bitdiff.Bitstream, bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session: cache get %s: %w", key, err)
	}
	data, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, false, fmt.Errorf("session: cache entry %s: %w", key, err)
	}
	bs, err := bitdiff.ReadBits(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("session: cache entry %s: %w", key, err)
	}
	return bs, true, nil
}

// Put stores bs under key.
func (c *Cache) Put(key string, bs *bitdiff.Bitstream) error {
	var buf bytes.Buffer
	if err := bitdiff.WriteBits(&buf, bs); err != nil {
		return err
	}
	val := c.enc.EncodeAll(buf.Bytes(), nil)
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return fmt.Errorf("session: cache put %s: %w", key, err)
	}
	return nil
}

// Len counts cached entries.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close flushes and closes the cache.
func (c *Cache) Close() error {
	c.dec.Close()
	if err := c.enc.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}
