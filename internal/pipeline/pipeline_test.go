package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger-dev/finledger/internal/config"
	"github.com/finledger-dev/finledger/internal/dedup"
	"github.com/finledger-dev/finledger/internal/fingerprint"
	"github.com/finledger-dev/finledger/internal/journal"
	"github.com/finledger-dev/finledger/internal/logger"
	"github.com/finledger-dev/finledger/internal/model"
	"github.com/finledger-dev/finledger/internal/normalize"
	"github.com/finledger-dev/finledger/internal/posting"
	"github.com/finledger-dev/finledger/internal/profile"
	"github.com/finledger-dev/finledger/internal/rules"
	"github.com/finledger-dev/finledger/internal/runlog"
)

const citiProfile = `institution: citi
name: Citi Double Cash
columns:
  date: Date
  description: Description
  amount: Amount
date_format: "%m/%d/%Y"
amount_invert: false
default_account: Liabilities:CreditCard:Citi
`

const citiExport = "Date,Description,Amount\n" +
	"02/15/2026,TRADER JOE'S #123,-42.50\n" +
	"02/16/2026,SQ *BLUE BOTTLE,-6.25\n" +
	"bad,BROKEN ROW,-1.00\n" +
	"03/01/2026,PAYMENT THANK YOU,500.00\n"

var runTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	layout  config.Layout
	profile *profile.Profile
	rules   *rules.Engine
	store   dedup.Store
}

func newFixture(t *testing.T, backend string) *fixture {
	t.Helper()
	l := config.NewLayout(t.TempDir())
	for _, d := range l.Dirs() {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(l.RulesDir(), rules.PayeesFile), []byte(`rules:
  - pattern: "^TRADER JOE"
    name: Trader Joe's
  - pattern: "^PAYMENT"
    name: Card Payment
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(l.RulesDir(), rules.AccountsFile), []byte(`rules:
  - payee: Trader Joe's
    account: Expenses:Groceries
  - payee: Card Payment
    account: Assets:Checking
`), 0o644))

	p, err := profile.Parse([]byte(citiProfile), "citi")
	require.NoError(t, err)
	r, err := rules.Load(l.RulesDir(), "Expenses:Uncategorized")
	require.NoError(t, err)
	s, err := dedup.Open(backend, l.DedupPath(backend))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &fixture{layout: l, profile: p, rules: r, store: s}
}

func (f *fixture) ingest(t *testing.T, data string) *RunReport {
	t.Helper()
	rep, err := Ingest(context.Background(), f.options(data))
	require.NoError(t, err)
	return rep
}

func (f *fixture) options(data string) Options {
	return Options{
		Layout:    f.layout,
		Profile:   f.profile,
		Rules:     f.rules,
		Store:     f.store,
		Commodity: "$",
		File:      "citi.csv",
		Data:      []byte(data),
		Now:       func() time.Time { return runTime },
	}
}

func TestIngest_EndToEnd(t *testing.T) {
	f := newFixture(t, dedup.BackendSQLite)
	rep := f.ingest(t, citiExport)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 4, rep.Rows)
	assert.Equal(t, 3, rep.Parsed)
	assert.Equal(t, 1, rep.Skipped)
	require.Len(t, rep.RowErrors, 1)
	assert.Equal(t, 4, rep.RowErrors[0].Line)
	assert.Equal(t, 3, rep.Staged)
	assert.Zero(t, rep.Duplicates)
	assert.Equal(t, 1, rep.Uncategorized)
	assert.Equal(t, []string{"citi_2026-02.journal", "citi_2026-03.journal"}, rep.StagedFiles)
	assert.Equal(t, "451.25", rep.Total.StringFixed(2))

	tx := model.CanonicalTransaction{
		Date:     time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		Amount:   normalizeAmount(t, "-42.50"),
		Payee:    "TRADER JOE'S #123",
		Account:  "Liabilities:CreditCard:Citi",
		SourceID: "",
	}
	fp := fingerprint.Compute(tx)

	data, err := os.ReadFile(filepath.Join(f.layout.StagingDir(), "citi_2026-02.journal"))
	require.NoError(t, err)
	want := "2026-02-15 Trader Joe's  ; fingerprint:" + string(fp) + "\n" +
		"    Expenses:Groceries    $42.50\n" +
		"    Liabilities:CreditCard:Citi\n" +
		"\n"
	assert.True(t, strings.HasPrefix(string(data), want), string(data))
	assert.Contains(t, string(data), "    Expenses:Uncategorized    $6.25\n")

	march, err := os.ReadFile(filepath.Join(f.layout.StagingDir(), "citi_2026-03.journal"))
	require.NoError(t, err)
	assert.Contains(t, string(march), "    Assets:Checking    -$500.00\n")

	has, err := f.store.Has(context.Background(), fp)
	require.NoError(t, err)
	assert.True(t, has)

	canonical, err := normalize.ReadCanonical(f.layout.CanonicalFile("citi", runTime))
	require.NoError(t, err)
	assert.Len(t, canonical, 3)
	assert.FileExists(t, rep.Archive)

	entries, err := runlog.Read(f.layout.LogsDir())
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		assert.Equal(t, rep.RunID, e.RunID)
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{runlog.ActionIngest, runlog.ActionSkip, runlog.ActionStage, runlog.ActionStage}, actions)
}

func normalizeAmount(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := normalize.ParseAmount(s)
	require.NoError(t, err)
	return d
}

func TestIngest_IdempotentReimport(t *testing.T) {
	for _, backend := range []string{dedup.BackendSQLite, dedup.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t, backend)
			first := f.ingest(t, citiExport)
			assert.Equal(t, 3, first.Staged)

			second := f.ingest(t, citiExport)
			assert.Zero(t, second.Staged)
			assert.Equal(t, 3, second.Duplicates)
			assert.Empty(t, second.StagedFiles)

			_, res, err := posting.Post(context.Background(), f.layout, false)
			require.NoError(t, err)
			assert.Equal(t, 3, res.Posted)

			// An overlapping export after posting adds only the new row.
			third := f.ingest(t, citiExport+"03/02/2026,NEW MERCHANT,-9.99\n")
			assert.Equal(t, 1, third.Staged)
			assert.Equal(t, 3, third.Duplicates)

			_, res, err = posting.Post(context.Background(), f.layout, false)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Posted)

			total := 0
			for _, rel := range res.Includes {
				fps, err := journal.Fingerprints(filepath.Join(f.layout.JournalDir(), filepath.FromSlash(rel)))
				require.NoError(t, err)
				total += len(fps)
			}
			assert.Equal(t, 4, total)
		})
	}
}

func TestIngest_HealsStagedButUnmarked(t *testing.T) {
	f := newFixture(t, dedup.BackendSQLite)
	f.ingest(t, citiExport)

	// Lose the dedup store, as after a crash between the staging write and
	// the claim commit.
	require.NoError(t, f.store.Close())
	leftovers, err := filepath.Glob(f.layout.DedupPath(dedup.BackendSQLite) + "*")
	require.NoError(t, err)
	for _, p := range leftovers {
		require.NoError(t, os.Remove(p))
	}
	s, err := dedup.Open(dedup.BackendSQLite, f.layout.DedupPath(dedup.BackendSQLite))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	f.store = s

	rep := f.ingest(t, citiExport)
	assert.Zero(t, rep.Staged)
	assert.Equal(t, 3, rep.Duplicates)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type failingStore struct {
	dedup.Store
	err error
}

func (s failingStore) Claim(context.Context, []model.Fingerprint, string, dedup.CommitFunc) error {
	return s.err
}

func TestIngest_StoreErrorIsFatal(t *testing.T) {
	f := newFixture(t, dedup.BackendSQLite)
	opts := f.options(citiExport)
	boom := errors.New("database disk image is malformed")
	opts.Store = failingStore{Store: f.store, err: boom}

	_, err := Ingest(context.Background(), opts)
	require.ErrorIs(t, err, boom)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageDedup, se.Stage)
	assert.Equal(t, "citi.csv", se.File)

	files, err := journal.StagingFiles(f.layout.StagingDir())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIngest_WriteErrorMarksNothing(t *testing.T) {
	f := newFixture(t, dedup.BackendSQLite)
	// A directory where a staging file should be makes the append fail.
	require.NoError(t, os.MkdirAll(filepath.Join(f.layout.StagingDir(), "citi_2026-03.journal"), 0o755))

	_, err := Ingest(context.Background(), f.options(citiExport))
	require.Error(t, err)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageWrite, se.Stage)

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	// The February file was appended before the failure; the next run
	// recognizes those entries and stages only what is missing.
	require.NoError(t, os.Remove(filepath.Join(f.layout.StagingDir(), "citi_2026-03.journal")))
	rep := f.ingest(t, citiExport)
	assert.Equal(t, 1, rep.Staged)
	assert.Equal(t, 2, rep.Duplicates)
	n, err = f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIngest_ConcurrentRunsStageOnce(t *testing.T) {
	f := newFixture(t, dedup.BackendSQLite)

	var wg sync.WaitGroup
	reports := make([]*RunReport, 4)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opts := f.options(citiExport)
			opts.File = fmt.Sprintf("copy-%d.csv", i)
			rep, err := Ingest(context.Background(), opts)
			assert.NoError(t, err)
			reports[i] = rep
		}(i)
	}
	wg.Wait()

	staged := 0
	for _, r := range reports {
		require.NotNil(t, r)
		staged += r.Staged
	}
	assert.Equal(t, 3, staged)

	rev, err := posting.Review(f.layout, "Expenses:Uncategorized", false)
	require.NoError(t, err)
	assert.Equal(t, 3, rev.Total)
	assert.Empty(t, rev.Duplicates)
}

func TestIngest_LogsRepeatedTransactions(t *testing.T) {
	f := newFixture(t, dedup.BackendSQLite)
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))

	repeated := citiExport + "02/15/2026,TRADER JOE'S #123,-42.50\n"
	rep, err := Ingest(ctx, f.options(repeated))
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Staged)

	out := buf.String()
	assert.Contains(t, out, `"stage":"fingerprint"`)
	assert.Contains(t, out, `"repeated":1`)
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: StageDedup, File: "a.csv", Fingerprint: model.Fingerprint(strings.Repeat("ab", 32)), Err: errors.New("locked")}
	assert.Equal(t, "dedup a.csv [abababababab]: locked", err.Error())
}
