// Package period maps transaction dates onto the year/month partitions of the
// staging and posting trees.
package period

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	monthLayout    = "2006-01"
	journalExt     = ".journal"
	stagingNameSep = "_"
)

// MonthKey returns a key like "2026-02".
func MonthKey(t time.Time) string {
	return t.Format(monthLayout)
}

// ParseMonthKey parses "2026-02" into year and month.
func ParseMonthKey(key string) (year, month int, err error) {
	parts := strings.SplitN(key, "-", 2)
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid month key %q: expected YYYY-MM", key)
	}

	year, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid year in month key %q: %w", key, err)
	}

	month, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month in month key %q: %w", key, err)
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("month out of range in month key %q", key)
	}
	return year, month, nil
}

// StagingName returns the staging file name for an institution and month,
// e.g. "citi_2026-02.journal".
func StagingName(institution string, t time.Time) string {
	return institution + stagingNameSep + MonthKey(t) + journalExt
}

// ParseStagingName splits "citi_2026-02.journal" into institution and month
// key. The institution is everything before the last separator.
func ParseStagingName(name string) (institution, monthKey string, err error) {
	base := strings.TrimSuffix(name, journalExt)
	if base == name {
		return "", "", fmt.Errorf("staging file %q: missing %s extension", name, journalExt)
	}
	i := strings.LastIndex(base, stagingNameSep)
	if i <= 0 {
		return "", "", fmt.Errorf("staging file %q: expected <institution>_<YYYY-MM>%s", name, journalExt)
	}
	institution, monthKey = base[:i], base[i+1:]
	if _, _, err := ParseMonthKey(monthKey); err != nil {
		return "", "", fmt.Errorf("staging file %q: %w", name, err)
	}
	return institution, monthKey, nil
}

// PostingRel returns the permanent ledger file for a date and institution,
// relative to the journal directory: postings/2026/2026-02/citi.journal.
func PostingRel(t time.Time, institution string) string {
	return filepath.Join("postings", t.Format("2006"), MonthKey(t), institution+journalExt)
}
