package pipeline

import (
	"fmt"

	"github.com/finledger-dev/finledger/internal/model"
)

// Stages named in StageError.
const (
	StageNormalize   = "normalize"
	StageFingerprint = "fingerprint"
	StageClassify    = "classify"
	StageDedup       = "dedup"
	StageWrite       = "write"
	StagePost        = "post"
)

// StageError is a fatal pipeline error, tagged with the stage that failed
// and, where known, the file and fingerprint involved.
type StageError struct {
	Stage       string
	File        string
	Fingerprint model.Fingerprint
	Err         error
}

func (e *StageError) Error() string {
	msg := e.Stage
	if e.File != "" {
		msg += " " + e.File
	}
	if e.Fingerprint != "" {
		msg += " [" + e.Fingerprint.Short() + "]"
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage, file string, err error) error {
	return &StageError{Stage: stage, File: file, Err: err}
}
