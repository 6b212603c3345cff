// Package headercache persists block header timestamps by height, so wallet
// history dates survive restarts without refetching headers.
package headercache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // bbolt driver
)

const (
	// dbType is the walletdb backend driving the cache.
	dbType = "bdb"

	// openTimeout bounds the wait on the database file lock.
	openTimeout = 10 * time.Second
)

var (
	// ErrNotOpen is returned when the cache is used after Close.
	ErrNotOpen = errors.New("header cache not open")
)

// Cache is a height to block-time lookup table, bucketed per network so one
// file can serve several chains.
type Cache struct {
	db     walletdb.DB
	bucket []byte
}

// Open opens (or creates) a header cache at the given path, scoped to one
// network.
func Open(path, network string) (*Cache, error) {
	db, err := walletdb.Open(dbType, path, true, openTimeout, false)
	if errors.Is(err, walletdb.ErrDbDoesNotExist) {
		db, err = walletdb.Create(dbType, path, true, openTimeout, false)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open header cache at %s: "+
			"%w", path, err)
	}

	cache := &Cache{
		db:     db,
		bucket: []byte("header-times-" + network),
	}

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(cache.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return cache, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	if c.db == nil {
		return ErrNotOpen
	}

	err := c.db.Close()
	c.db = nil

	return err
}

// heightKey encodes a height as a big-endian bucket key so entries iterate
// in height order.
func heightKey(height int32) [4]byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], uint32(height))

	return key
}

// BlockTime returns the cached timestamp of a height.
//
// This implements the electrum.HeaderTimeCache interface.
func (c *Cache) BlockTime(height int32) (time.Time, bool) {
	if c.db == nil {
		return time.Time{}, false
	}

	var (
		blockTime time.Time
		found     bool
	)
	err := walletdb.View(c.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(c.bucket)
		if bucket == nil {
			return nil
		}

		key := heightKey(height)
		value := bucket.Get(key[:])
		if len(value) != 8 {
			return nil
		}

		secs := int64(binary.BigEndian.Uint64(value))
		blockTime = time.Unix(secs, 0).UTC()
		found = true

		return nil
	})
	if err != nil {
		return time.Time{}, false
	}

	return blockTime, found
}

// PutBlockTime caches the timestamp of a height.
//
// This implements the electrum.HeaderTimeCache interface.
func (c *Cache) PutBlockTime(height int32, t time.Time) error {
	return c.PutBatch(map[int32]time.Time{height: t})
}

// PutBatch caches several timestamps in one transaction.
func (c *Cache) PutBatch(times map[int32]time.Time) error {
	if c.db == nil {
		return ErrNotOpen
	}

	return walletdb.Update(c.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(c.bucket)
		if bucket == nil {
			return walletdb.ErrBucketNotFound
		}

		for height, blockTime := range times {
			key := heightKey(height)

			var value [8]byte
			binary.BigEndian.PutUint64(
				value[:], uint64(blockTime.Unix()),
			)

			err := bucket.Put(key[:], value[:])
			if err != nil {
				return err
			}
		}

		return nil
	})
}
