package testsupport

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"taxwire/internal/submission"
)

// NewSubmission builds a valid submission with generated payloads. The id
// defaults to a fresh UUID when empty.
func NewSubmission(t testing.TB, id string) *submission.Submission {
	t.Helper()
	if id == "" {
		id = uuid.NewString()
	}
	return &submission.Submission{
		ID:        id,
		OwnerID:   "owner-" + id,
		Manifest:  []byte(fmt.Sprintf("<manifest id=%q/>", id)),
		Body:      []byte(fmt.Sprintf("<submission id=%q/>", id)),
		Context:   []byte(fmt.Sprintf(`{"submissionId":%q}`, id)),
		TaxIDType: submission.TaxIDPersonal,
		SignedAt:  time.Now().UTC(),
	}
}
