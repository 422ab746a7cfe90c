package normalize

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/finledger-dev/finledger/internal/model"
)

// WriteCanonical appends transactions to a JSONL file, one object per line.
// The file is append-only; it is the audit and replay record of what each
// run derived from its export.
func WriteCanonical(path string, txns []model.CanonicalTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating canonical dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening canonical file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, txn := range txns {
		if err := enc.Encode(txn); err != nil {
			return fmt.Errorf("encoding transaction %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing canonical file: %w", err)
	}
	return f.Sync()
}

// ReadCanonical reads every transaction from a JSONL file. A missing file
// yields no transactions.
func ReadCanonical(path string) ([]model.CanonicalTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening canonical file: %w", err)
	}
	defer f.Close()

	var txns []model.CanonicalTransaction
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var txn model.CanonicalTransaction
		if err := json.Unmarshal(sc.Bytes(), &txn); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		txns = append(txns, txn)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading canonical file: %w", err)
	}
	return txns, nil
}
