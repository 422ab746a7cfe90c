package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/finledger-dev/finledger/internal/period"
)

// Stager appends rendered entries to the staging directory.
type Stager struct {
	dir string
}

// NewStager creates a Stager writing under dir.
func NewStager(dir string) *Stager {
	return &Stager{dir: dir}
}

// Dir returns the staging directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Append writes entries to <institution>_<YYYY-MM>.journal files, keeping
// input order within each file. Every file is synced before Append returns.
// Returns the staging file names written, sorted.
func (s *Stager) Append(entries []Entry) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}

	groups := make(map[string]*strings.Builder)
	for _, e := range entries {
		name := period.StagingName(e.Institution, e.Date)
		b, ok := groups[name]
		if !ok {
			b = &strings.Builder{}
			groups[name] = b
		}
		b.WriteString(Render(e))
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := appendSync(filepath.Join(s.dir, name), groups[name].String()); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func appendSync(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening staging file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// StagingFiles lists the *.journal files in dir, sorted. A missing dir has
// none.
func StagingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading staging dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".journal" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
