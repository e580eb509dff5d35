package artifacts

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"go.etcd.io/bbolt"

	"concept-rag/internal/helper"
	"concept-rag/internal/models"
)

var (
	bucketChunks     = []byte("chunks")
	bucketEmbeddings = []byte("embeddings")
)

// Store keeps chunk sets and embedding caches on disk, one nested bucket per
// chunking strategy. Writing a strategy replaces whatever was stored for it.
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketChunks, bucketEmbeddings} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutChunks overwrites the chunk set for strategy.
func (s *Store) PutChunks(strategy string, chunks []models.Chunk) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := resetBucket(tx.Bucket(bucketChunks), strategy)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := b.Put(ordinalKey(c.Ordinal), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Chunks returns the stored chunk set for strategy in ordinal order, or nil
// if nothing was stored.
func (s *Store) Chunks(strategy string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks).Bucket([]byte(strategy))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var c models.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			chunks = append(chunks, c)
			return nil
		})
	})
	return chunks, err
}

// PutEmbeddings overwrites the embedding cache for strategy.
func (s *Store) PutEmbeddings(strategy string, vectors map[string][]float32) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := resetBucket(tx.Bucket(bucketEmbeddings), strategy)
		if err != nil {
			return err
		}
		for id, v := range vectors {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Embeddings returns the cached vectors for strategy keyed by chunk id. ok is
// false when no cache exists for it.
func (s *Store) Embeddings(strategy string) (vectors map[string][]float32, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEmbeddings).Bucket([]byte(strategy))
		if b == nil {
			return nil
		}
		ok = true
		vectors = make(map[string][]float32)
		return b.ForEach(func(k, v []byte) error {
			var vec []float32
			if err := json.Unmarshal(v, &vec); err != nil {
				return err
			}
			vectors[string(k)] = vec
			return nil
		})
	})
	return vectors, ok, err
}

// Strategies lists every strategy with a stored chunk set.
func (s *Store) Strategies() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChunks).ForEach(func(k, v []byte) error {
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

func resetBucket(parent *bbolt.Bucket, name string) (*bbolt.Bucket, error) {
	if name == "" {
		return nil, errors.New("strategy name is required")
	}
	key := []byte(name)
	if parent.Bucket(key) != nil {
		if err := parent.DeleteBucket(key); err != nil {
			return nil, fmt.Errorf("failed to clear bucket %s: %w", name, err)
		}
	}
	return parent.CreateBucket(key)
}

func ordinalKey(n int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(n))
	return k
}
