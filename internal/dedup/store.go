// Package dedup persists the set of fingerprints that have been staged, so a
// transaction is imported at most once across runs.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/finledger-dev/finledger/internal/model"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown dedup backend")

// CommitFunc performs the side effect that must happen together with marking
// claimed fingerprints as seen. If it returns an error nothing is marked.
type CommitFunc func(claimed []model.Fingerprint) error

// Store is the durable set of seen fingerprints. Errors from a Store are
// never to be read as "not seen".
type Store interface {
	// Has reports whether fp has been marked.
	Has(ctx context.Context, fp model.Fingerprint) (bool, error)
	// MarkSeen marks fp, reporting whether it was newly marked.
	MarkSeen(ctx context.Context, fp model.Fingerprint, source string) (bool, error)
	// Claim marks the unseen fingerprints of fps in one write transaction
	// and runs commit with them, in input order and without repeats,
	// before the transaction commits. Concurrent claims of the same
	// fingerprint succeed for exactly one caller.
	Claim(ctx context.Context, fps []model.Fingerprint, source string, commit CommitFunc) error
	// Get returns the record for fp; ok is false when it is unseen.
	Get(ctx context.Context, fp model.Fingerprint) (rec model.SeenRecord, ok bool, err error)
	// Count returns the number of seen fingerprints.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open opens the store for backend at path, creating it if needed.
func Open(backend, path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(path)
	case BackendBolt:
		return OpenBolt(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// nowFunc is the clock used for first_seen.
var nowFunc = func() time.Time { return time.Now().UTC() }
