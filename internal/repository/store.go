package repository

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mavleo96/remote-test-harness/internal/database"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Fetch for names that are not stored
var ErrNotFound = errors.New("not found")

// LogExt marks stored files that are result records
const LogExt = ".txt"

// Store keeps artifacts and result records as flat files, indexed in a bbolt catalog
type Store struct {
	dir     string
	catalog string
	db      *database.Database
}

// CreateStore opens the store rooted at dir and indexes the files already there
func CreateStore(dir, catalogPath string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", dir)
	}
	db := &database.Database{}
	if err := db.InitDB(catalogPath); err != nil {
		return nil, errors.Wrapf(err, "failed to open catalog %s", catalogPath)
	}
	s := &Store{dir: dir, catalog: catalogPath, db: db}
	if err := s.Sync(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Dir returns the directory holding the stored files
func (s *Store) Dir() string {
	return s.dir
}

// Close closes the catalog
func (s *Store) Close() error {
	return s.db.Close()
}

func bucketOf(name string) string {
	if strings.HasSuffix(name, LogExt) {
		return database.LogsBucket
	}
	return database.ArtifactsBucket
}

// Store writes data under name
func (s *Store) Store(name string, data []byte) error {
	name = filepath.Base(name)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0644); err != nil {
		return errors.Wrapf(err, "failed to store %s", name)
	}
	return s.Index(name, int64(len(data)))
}

// Index records a file written into the store directory by someone else
func (s *Store) Index(name string, size int64) error {
	err := s.db.Put(bucketOf(name), name, database.Entry{Size: size, StoredAt: time.Now()})
	if err != nil {
		return errors.Wrapf(err, "failed to index %s", name)
	}
	log.Debugf("[Repository] indexed %s (%d bytes)", name, size)
	return nil
}

// Fetch returns the contents stored under name
func (s *Store) Fetch(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(name)))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", name)
	}
	return data, nil
}

// Query returns the names of stored records containing text, in descending order
func (s *Store) Query(text string) ([]string, error) {
	names, err := s.db.Names(database.LogsBucket)
	if err != nil {
		return nil, err
	}
	hits := []string{}
	for _, name := range names {
		if strings.Contains(name, text) {
			hits = append(hits, name)
			continue
		}
		data, err := s.Fetch(name)
		if err != nil {
			log.Warnf("[Repository] skipping %s: %v", name, err)
			continue
		}
		if bytes.Contains(data, []byte(text)) {
			hits = append(hits, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(hits)))
	return hits, nil
}

// Sync indexes every file present in the store directory
func (s *Store) Sync() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", s.dir)
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || s.isCatalog(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if err := s.Index(entry.Name(), info.Size()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) isCatalog(name string) bool {
	a, err := filepath.Abs(filepath.Join(s.dir, name))
	if err != nil {
		return false
	}
	b, err := filepath.Abs(s.catalog)
	return err == nil && a == b
}
