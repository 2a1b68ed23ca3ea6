package localcache

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/latticehq/hostd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketClaims    = []byte("claims")
	bucketSpecs     = []byte("component_specs")
	bucketLinks     = []byte("links")
	bucketConfig    = []byte("config_entries")
)

// BoltStore implements Store using bbolt, one file per host under
// DataDir/lattice.db.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the local cache database
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "lattice.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketClaims, bucketSpecs, bucketLinks, bucketConfig} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Claims

func (s *BoltStore) PutClaims(c *types.Claims) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketClaims).Put([]byte(c.Subject), data)
	})
}

func (s *BoltStore) GetClaims(subject string) (*types.Claims, error) {
	var c types.Claims
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketClaims).Get([]byte(subject))
		if data == nil {
			return fmt.Errorf("claims not found: %s", subject)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListClaims() ([]*types.Claims, error) {
	var out []*types.Claims
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClaims).ForEach(func(k, v []byte) error {
			var c types.Claims
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteClaims(subject string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClaims).Delete([]byte(subject))
	})
}

// Component specs

func (s *BoltStore) PutComponentSpec(id string, spec *types.ComponentSpec) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSpecs).Put([]byte(id), data)
	})
}

func (s *BoltStore) GetComponentSpec(id string) (*types.ComponentSpec, error) {
	var spec types.ComponentSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSpecs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("component spec not found: %s", id)
		}
		return json.Unmarshal(data, &spec)
	})
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *BoltStore) ListComponentSpecs() (map[string]*types.ComponentSpec, error) {
	out := make(map[string]*types.ComponentSpec)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSpecs).ForEach(func(k, v []byte) error {
			var spec types.ComponentSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			out[string(k)] = &spec
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteComponentSpec(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSpecs).Delete([]byte(id))
	})
}

// Links are keyed by a flattened LinkKey so the bucket can be range-
// scanned; the (source, namespace, package, name) tuple is joined with
// a separator that can't appear in any of its parts (they're all
// identifiers or WIT names, never containing NUL).
func linkKeyBytes(k types.LinkKey) []byte {
	return []byte(k.SourceID + "\x00" + k.Namespace + "\x00" + k.Package + "\x00" + k.Name)
}

func (s *BoltStore) PutLink(l *types.Link) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(l)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLinks).Put(linkKeyBytes(l.KeyFromSource()), data)
	})
}

func (s *BoltStore) ListLinks() ([]*types.Link, error) {
	var out []*types.Link
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLinks).ForEach(func(k, v []byte) error {
			var l types.Link
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			out = append(out, &l)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteLink(key types.LinkKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLinks).Delete(linkKeyBytes(key))
	})
}

// Config entries, keyed by Name alone in one bucket; the store does
// not distinguish CONFIG_ from SECRETS_ entries.

func (s *BoltStore) PutConfigEntry(e *types.ConfigEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfig).Put([]byte(e.Name), data)
	})
}

func (s *BoltStore) GetConfigEntry(name string) (*types.ConfigEntry, error) {
	var e types.ConfigEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("config entry not found: %s", name)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) DeleteConfigEntry(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Delete([]byte(name))
	})
}
