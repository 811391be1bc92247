package wire

import (
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/veldt-lang/veldt/vm"
)

var log = commonlog.GetLogger("veldt.wire")

// ErrNotFound indicates the requested digest is not in the store.
var ErrNotFound = errors.New("wire: unit not found")

// Store is a content-addressed cache of encoded units backed by
// sqlite. Units are keyed by digest, so a hit is always byte-identical
// to what was stored.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens (creating if needed) a unit store at path. Use
// ":memory:" for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// Busy timeout for concurrent access from multiple hosts.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS units (
		digest TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating units table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores a unit under its content digest and returns the digest.
// Storing the same unit twice is a no-op.
func (s *Store) Put(u *vm.Unit) (Digest, error) {
	data, err := MarshalUnit(u)
	if err != nil {
		return Digest{}, err
	}
	d := Digest(sha256.Sum256(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO units (digest, data) VALUES (?, ?) ON CONFLICT(digest) DO NOTHING`,
		d.String(), data)
	if err != nil {
		return Digest{}, fmt.Errorf("storing unit %s: %w", d, err)
	}
	return d, nil
}

// Get loads the unit stored under digest, or ErrNotFound.
func (s *Store) Get(d Digest) (*vm.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(d)
}

func (s *Store) get(d Digest) (*vm.Unit, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM units WHERE digest = ?`, d.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading unit %s: %w", d, err)
	}
	return UnmarshalUnit(data)
}

func (s *Store) put(d Digest, data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO units (digest, data) VALUES (?, ?) ON CONFLICT(digest) DO NOTHING`,
		d.String(), data)
	return err
}

// LinkCached links the given units, reusing a previously stored result
// when the same inputs have been linked before. Deterministic linking
// makes the memoization sound: the cached unit is byte-identical to
// what Link would produce.
func (s *Store) LinkCached(units ...*vm.Unit) (*vm.Unit, error) {
	key, err := InputsDigest(units...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, err := s.get(key); err == nil {
		log.Debugf("link cache hit: %s", key)
		return cached, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	linked, err := vm.Link(units...)
	if err != nil {
		return nil, err
	}
	data, err := MarshalUnit(linked)
	if err != nil {
		return nil, err
	}
	if err := s.put(key, data); err != nil {
		return nil, fmt.Errorf("caching link result %s: %w", key, err)
	}
	log.Debugf("link cache store: %s (%d bytes)", key, len(data))
	return linked, nil
}
