// Package submission defines the immutable unit of work accepted by the
// batching pipeline.
package submission

import (
	"errors"
	"strings"
	"time"
)

// Payload object names stored under a submission's batch path. Together the
// three blobs are the complete wire representation of one tax return.
const (
	ManifestObject = "manifest.xml"
	BodyObject     = "submission.xml"
	ContextObject  = "userContext.json"
)

// TaxIdentifierType classifies the identifier the return was signed with.
type TaxIdentifierType string

const (
	TaxIDPersonal TaxIdentifierType = "personal"
	TaxIDCompany  TaxIdentifierType = "company"
)

// Submission is created once by the upstream resource layer and never
// mutated. It is consumed exactly once by a successful bundle or copied into
// exactly one error batch on failure.
type Submission struct {
	ID           string
	OwnerID      string
	Manifest     []byte
	Body         []byte
	Context      []byte
	TaxIDType    TaxIdentifierType
	RemoteOrigin string
	SignedAt     time.Time
}

// Validate reports whether the submission carries everything the batch store
// needs to persist it.
func (s *Submission) Validate() error {
	if s == nil {
		return errors.New("submission is nil")
	}
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("submission id is required")
	}
	if strings.TrimSpace(s.OwnerID) == "" {
		return errors.New("submission owner id is required")
	}
	if len(s.Manifest) == 0 || len(s.Body) == 0 || len(s.Context) == 0 {
		return errors.New("submission payload blobs must all be present")
	}
	return nil
}
