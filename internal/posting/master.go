package posting

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/finledger-dev/finledger/internal/config"
	"github.com/finledger-dev/finledger/internal/fsutil"
)

const (
	includeDirective = "include "
	postingsPrefix   = "postings/"
)

// MasterHeader starts a new main.journal.
const MasterHeader = `; finledger master ledger
; Include directives for postings/ are maintained by "finledger post".
`

// PostingFiles returns every posting file under the layout's postings
// directory, relative to the journal directory with forward slashes, sorted.
func PostingFiles(layout config.Layout) ([]string, error) {
	var files []string
	err := filepath.WalkDir(layout.PostingsDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == layout.PostingsDir() {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || filepath.Ext(d.Name()) != ".journal" {
			return nil
		}
		rel, err := filepath.Rel(layout.JournalDir(), path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning postings: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// ParseIncludes returns the posting include targets listed in a master
// ledger, in file order.
func ParseIncludes(content string) []string {
	var includes []string
	for _, line := range strings.Split(content, "\n") {
		if target, ok := postingInclude(line); ok {
			includes = append(includes, target)
		}
	}
	return includes
}

func postingInclude(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, includeDirective) {
		return "", false
	}
	target := strings.TrimSpace(strings.TrimPrefix(s, includeDirective))
	if !strings.HasPrefix(target, postingsPrefix) {
		return "", false
	}
	return target, true
}

// RenderMaster rebuilds a master ledger: every line of existing except
// posting includes is kept in place, then one include per entry of includes
// follows, sorted and deduplicated.
func RenderMaster(existing string, includes []string) string {
	var kept []string
	for _, line := range strings.Split(existing, "\n") {
		if _, ok := postingInclude(line); ok {
			continue
		}
		kept = append(kept, line)
	}
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}

	var b strings.Builder
	for _, line := range kept {
		b.WriteString(line + "\n")
	}
	uniq := dedupSorted(includes)
	if len(kept) > 0 && len(uniq) > 0 {
		b.WriteString("\n")
	}
	for _, inc := range uniq {
		b.WriteString(includeDirective + inc + "\n")
	}
	return b.String()
}

func dedupSorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if i > 0 && s == out[n-1] {
			continue
		}
		out[n] = s
		n++
	}
	return out[:n]
}

func readMaster(layout config.Layout) (string, error) {
	data, err := os.ReadFile(layout.MainJournal())
	if errors.Is(err, os.ErrNotExist) {
		return MasterHeader, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading main.journal: %w", err)
	}
	return string(data), nil
}

// ReconcileMaster rewrites main.journal so its posting includes match the
// posting files on disk. The file is only replaced when it changes. Returns
// the include list and the includes that were added.
func ReconcileMaster(layout config.Layout) (includes, added []string, err error) {
	files, err := PostingFiles(layout)
	if err != nil {
		return nil, nil, err
	}
	existing, err := readMaster(layout)
	if err != nil {
		return nil, nil, err
	}
	added = missing(ParseIncludes(existing), files)

	next := RenderMaster(existing, files)
	if _, statErr := os.Stat(layout.MainJournal()); statErr == nil && next == existing {
		return files, added, nil
	}
	if err := fsutil.WriteFileAtomic(layout.MainJournal(), []byte(next)); err != nil {
		return nil, nil, fmt.Errorf("writing main.journal: %w", err)
	}
	return files, added, nil
}

// missing returns the entries of want not in have, in want order.
func missing(have, want []string) []string {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	var out []string
	for _, w := range want {
		if !set[w] {
			out = append(out, w)
		}
	}
	return out
}
