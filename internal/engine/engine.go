// Package engine runs the external plain-text accounting engine to check
// journals it will later read.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNotInstalled is returned when the engine binary is not on PATH.
var ErrNotInstalled = errors.New("accounting engine not installed")

// CheckResult is the outcome of an engine check.
type CheckResult struct {
	OK     bool
	Output string
}

// Available reports whether command resolves to an executable.
func Available(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

// Check runs "<command> -f <journal> check". A failed check is reported in
// the result, not as an error; errors mean the engine could not run.
func Check(ctx context.Context, command, journal string) (*CheckResult, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, command)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-f", journal, "check")
	cmd.Stdout = &out
	cmd.Stderr = &out
	err = cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return &CheckResult{OK: true, Output: strings.TrimSpace(out.String())}, nil
	case errors.As(err, &exitErr):
		return &CheckResult{OK: false, Output: strings.TrimSpace(out.String())}, nil
	default:
		return nil, fmt.Errorf("running %s: %w", command, err)
	}
}

// CheckWithStaging checks the master ledger together with the given staging
// files, through a temporary journal that includes them all. Nothing in the
// project is modified.
func CheckWithStaging(ctx context.Context, command, mainJournal string, staging []string) (*CheckResult, error) {
	var b strings.Builder
	b.WriteString("include " + mainJournal + "\n")
	for _, s := range staging {
		b.WriteString("include " + s + "\n")
	}

	tmp, err := os.CreateTemp("", "finledger-check-*.journal")
	if err != nil {
		return nil, fmt.Errorf("creating check journal: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing check journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("writing check journal: %w", err)
	}

	return Check(ctx, command, filepath.Clean(tmp.Name()))
}
