package batchstore

import (
	"fmt"
	"path"
	"strconv"
	"time"
)

const (
	// batchRoot prefixes every in-flight batch path.
	batchRoot = "pre-submission-batching"
	// errorRoot prefixes every demoted single-submission batch path.
	errorRoot = "pre-submission-batching/errors"
)

// ControlYear returns the filing-season control year for a wall-clock time.
// Returns filed in a given year concern the previous tax year.
func ControlYear(now time.Time) int {
	return now.Year() - 1
}

// Batch is a handle to a durably stored group of submissions. Membership is
// derived by listing storage under the batch's prefix, not by any in-memory
// container. An ErrorIndex >= 0 marks a demoted single-submission batch.
type Batch struct {
	ApplicationID string
	ControlYear   int
	ID            int64
	ErrorIndex    int64
}

// NewBatch builds a handle for a regular in-flight batch.
func NewBatch(applicationID string, controlYear int, id int64) Batch {
	return Batch{ApplicationID: applicationID, ControlYear: controlYear, ID: id, ErrorIndex: -1}
}

// NewErrorBatch builds a handle for a demoted single-submission batch.
func NewErrorBatch(applicationID string, controlYear int, id, index int64) Batch {
	return Batch{ApplicationID: applicationID, ControlYear: controlYear, ID: id, ErrorIndex: index}
}

// IsError reports whether the handle points into the error-batch area.
func (b Batch) IsError() bool {
	return b.ErrorIndex >= 0
}

// Prefix returns the storage prefix all of the batch's objects live under.
func (b Batch) Prefix() string {
	year := strconv.Itoa(b.ControlYear)
	id := strconv.FormatInt(b.ID, 10)
	if b.IsError() {
		return path.Join(errorRoot, b.ApplicationID, year, id, strconv.FormatInt(b.ErrorIndex, 10))
	}
	return path.Join(batchRoot, b.ApplicationID, year, id)
}

// Key returns the stable identity used for in-flight de-duplication.
func (b Batch) Key() string {
	return b.Prefix()
}

func (b Batch) String() string {
	if b.IsError() {
		return fmt.Sprintf("error batch %d/%d (%s, %d)", b.ID, b.ErrorIndex, b.ApplicationID, b.ControlYear)
	}
	return fmt.Sprintf("batch %d (%s, %d)", b.ID, b.ApplicationID, b.ControlYear)
}

func (b Batch) submissionPrefix(submissionID string) string {
	return path.Join(b.Prefix(), submissionID)
}

func (b Batch) objectKey(submissionID, object string) string {
	return path.Join(b.Prefix(), submissionID, object)
}
