package database

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// Catalog buckets
const (
	ArtifactsBucket = "artifacts"
	LogsBucket      = "logs"
)

// Entry describes one stored file
type Entry struct {
	Size     int64
	StoredAt time.Time
}

type Database struct {
	db *bbolt.DB
}

// InitDB opens the catalog at dbPath and creates the "artifacts" and "logs" buckets if needed.
func (d *Database) InitDB(dbPath string) (err error) {
	boltDB, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	d.db = boltDB

	err = d.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{ArtifactsBucket, LogsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.db.Close()
	}
	return err
}

// Put records name in bucket, replacing any previous entry.
func (d *Database) Put(bucket, name string, e Entry) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errors.Errorf("%s bucket not found", bucket)
		}
		return b.Put([]byte(name), encodeEntry(e))
	})
}

// Get returns the entry of name in bucket; ok is false if there is none.
func (d *Database) Get(bucket, name string) (e Entry, ok bool, err error) {
	err = d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errors.Errorf("%s bucket not found", bucket)
		}
		v := b.Get([]byte(name))
		if v == nil {
			return nil
		}
		ok = true
		e, err = decodeEntry(v)
		return err
	})
	return e, ok, err
}

// Names returns every name recorded in bucket in key order.
func (d *Database) Names(bucket string) ([]string, error) {
	var names []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errors.Errorf("%s bucket not found", bucket)
		}
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// Delete removes name from bucket.
func (d *Database) Delete(bucket, name string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errors.Errorf("%s bucket not found", bucket)
		}
		return b.Delete([]byte(name))
	})
}

// Close closes the database
func (d *Database) Close() error {
	return d.db.Close()
}

// entries are stored as "size:unixnano"
func encodeEntry(e Entry) []byte {
	return []byte(strconv.FormatInt(e.Size, 10) + ":" + strconv.FormatInt(e.StoredAt.UnixNano(), 10))
}

func decodeEntry(v []byte) (Entry, error) {
	size, stamp, ok := strings.Cut(string(v), ":")
	if !ok {
		return Entry{}, errors.New("malformed catalog entry")
	}
	n, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return Entry{}, errors.Wrap(err, "malformed catalog entry size")
	}
	ns, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return Entry{}, errors.Wrap(err, "malformed catalog entry time")
	}
	return Entry{Size: n, StoredAt: time.Unix(0, ns)}, nil
}
