package cachestore

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger is a Store backed by an embedded Badger key-value database, for
// single-process deployments that want durability without running a
// separate database server. Expiry is tracked both via Badger's native
// per-entry TTL (so expired entries are reclaimed automatically) and an
// explicit index key that puts a big-endian expiry timestamp ahead of the
// entry key, so Oldest can walk entries in expiry order.
type Badger struct {
	db *badger.DB
}

// NewBadger opens (creating if needed) a Badger-backed Store at dir. An
// empty dir opens an in-memory database.
func NewBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

type badgerEntry struct {
	Key         string    `json:"key"`
	Expires     time.Time `json:"expires"`
	RequestedAt time.Time `json:"requested_at"`
	ReceivedAt  time.Time `json:"received_at"`
	Policy      []byte    `json:"policy"`
	Body        []byte    `json:"body"`
}

func expiryIndexKey(key string, expires time.Time) []byte {
	buf := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(buf, uint64(expires.Unix()))
	copy(buf[8:], key)
	return append([]byte("x:"), buf...)
}

func (b *Badger) dataKey(key string) []byte { return append([]byte("e:"), key...) }

func (b *Badger) All(prefix string) ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := append([]byte("e:"), prefix...)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				if e, ok := decodeBadgerEntry(val); ok {
					out = append(out, e)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (b *Badger) AllKeys(prefix string, cb func(string)) {
	b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := append([]byte("e:"), prefix...)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			cb(string(it.Item().Key()[2:]))
		}
		return nil
	})
}

func (b *Badger) Get(key string) (Entry, bool, error) {
	var out Entry
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.dataKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if e, ok := decodeBadgerEntry(val); ok {
				out, found = e, true
			}
			return nil
		})
	})
	return out, found, err
}

func (b *Badger) Put(e Entry) error {
	raw, err := json.Marshal(badgerEntry{
		Key: e.Key, Expires: e.Expires, RequestedAt: e.RequestedAt,
		ReceivedAt: e.ReceivedAt, Policy: e.Policy, Body: e.Body,
	})
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		item := badger.NewEntry(b.dataKey(e.Key), raw)
		if !e.Expires.IsZero() {
			if ttl := time.Until(e.Expires); ttl > 0 {
				item = item.WithTTL(ttl)
			}
			if err := txn.SetEntry(badger.NewEntry(expiryIndexKey(e.Key, e.Expires), nil)); err != nil {
				return err
			}
		}
		return txn.SetEntry(item)
	})
}

func (b *Badger) Oldest(prefix string) (string, time.Time, error) {
	var key string
	var expires time.Time
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte("x:")); it.ValidForPrefix([]byte("x:")); it.Next() {
			k := it.Item().Key()
			ts := binary.BigEndian.Uint64(k[2:10])
			candidate := string(k[10:])
			if !hasPrefix(candidate, prefix) {
				continue
			}
			key, expires = candidate, time.Unix(int64(ts), 0)
			return nil
		}
		return nil
	})
	return key, expires, err
}

func (b *Badger) Purge(key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.dataKey(key))
	})
}

func (b *Badger) Has(key string) bool {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(b.dataKey(key))
		return err
	})
	return err == nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func decodeBadgerEntry(raw []byte) (Entry, bool) {
	var be badgerEntry
	if json.Unmarshal(raw, &be) != nil {
		return Entry{}, false
	}
	return Entry{
		Key: be.Key, Expires: be.Expires, RequestedAt: be.RequestedAt,
		ReceivedAt: be.ReceivedAt, Policy: be.Policy, Body: be.Body,
	}, true
}
