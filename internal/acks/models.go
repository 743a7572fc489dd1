package acks

import "time"

// Status is the resolved outcome of a submission acknowledgement.
type Status string

const (
	// StatusAccepted means the filing system accepted the submission.
	StatusAccepted Status = "accepted"
	// StatusRejected means the filing system rejected the submission
	// with one or more rejection errors.
	StatusRejected Status = "rejected"
	// StatusToolkitError means the filing system could not process the
	// submission at all; its status lookup itself fails.
	StatusToolkitError Status = "toolkit_error"
)

// Pending is a submission whose acknowledgement has not arrived yet.
type Pending struct {
	SubmissionID string
	PodID        string
	CreatedAt    time.Time
}

// Completed is a fully resolved acknowledgement.
type Completed struct {
	SubmissionID string
	Status       Status
	// Errors holds rejection details as reported by the filing system.
	// Empty for accepted submissions.
	Errors    []RejectionDetail
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RejectionDetail is one rejection error attached to a completed
// acknowledgement.
type RejectionDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
