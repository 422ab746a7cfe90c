package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/finledger-dev/finledger/internal/model"
)

var bucketSeen = []byte("seen")

type boltRecord struct {
	Source    string    `json:"source"`
	FirstSeen time.Time `json:"first_seen"`
}

// BoltStore keeps seen fingerprints in a bbolt file. bbolt holds an
// exclusive file lock while open, so only one process uses it at a time.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens or creates the bbolt file at path. It waits up to ten
// seconds for another process to release the file.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening dedup database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSeen)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Has(ctx context.Context, fp model.Fingerprint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketSeen).Get([]byte(fp)) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) MarkSeen(ctx context.Context, fp model.Fingerprint, source string) (bool, error) {
	var marked bool
	err := s.Claim(ctx, []model.Fingerprint{fp}, source, func(claimed []model.Fingerprint) error {
		marked = len(claimed) == 1
		return nil
	})
	return marked, err
}

func (s *BoltStore) Claim(ctx context.Context, fps []model.Fingerprint, source string, commit CommitFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(boltRecord{Source: source, FirstSeen: nowFunc()})
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSeen)
		var claimed []model.Fingerprint
		for _, fp := range fps {
			key := []byte(fp)
			if b.Get(key) != nil {
				continue
			}
			if err := b.Put(key, value); err != nil {
				return fmt.Errorf("claiming fingerprint %s: %w", fp.Short(), err)
			}
			claimed = append(claimed, fp)
		}
		return commit(claimed)
	})
}

func (s *BoltStore) Get(ctx context.Context, fp model.Fingerprint) (model.SeenRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.SeenRecord{}, false, err
	}
	var rec boltRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSeen).Get([]byte(fp))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return model.SeenRecord{}, false, fmt.Errorf("reading fingerprint: %w", err)
	}
	if !found {
		return model.SeenRecord{}, false, nil
	}
	return model.SeenRecord{Fingerprint: fp, Source: rec.Source, FirstSeen: rec.FirstSeen}, true, nil
}

func (s *BoltStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSeen).Stats().KeyN
		return nil
	})
	return n, err
}
