package filing

import (
	"bytes"
	"context"
	"fmt"

	"taxwire/internal/submission"
)

// Archive is the service-ready representation of one submission: the three
// payload blobs framed for transmission.
type Archive struct {
	SubmissionID string
	Manifest     []byte
	Body         []byte
	Context      []byte
}

// Bundle is the service-native merged representation of all archives of a
// batch, transmitted as one request.
type Bundle struct {
	SubmissionIDs []string
	Payload       []byte
}

// SubmitResult reports a successful transmission. Receipts maps each
// submission id to the terminal receipt identifier issued by the service's
// transmitter.
type SubmitResult struct {
	Receipts map[string]string
}

// Acknowledgement is the service's asynchronous verdict on one submission.
type Acknowledgement struct {
	SubmissionID string
	Accepted     bool
	Errors       []RejectionError
}

// RejectionError is one entry of a rejected submission's ordered error list.
type RejectionError struct {
	Code    string
	Message string
}

// Client is the capability surface of the external filing service. Submit
// requires a prior Login; Logout must follow on all paths.
type Client interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Submit(ctx context.Context, bundle *Bundle) (*SubmitResult, error)
	Acknowledgements(ctx context.Context, submissionIDs []string) ([]Acknowledgement, error)
}

// BuildArchive frames one submission for transmission.
func BuildArchive(sub *submission.Submission) (Archive, error) {
	if err := sub.Validate(); err != nil {
		return Archive{}, err
	}
	return Archive{
		SubmissionID: sub.ID,
		Manifest:     append([]byte(nil), sub.Manifest...),
		Body:         append([]byte(nil), sub.Body...),
		Context:      append([]byte(nil), sub.Context...),
	}, nil
}

// MergeArchives merges the archives of a batch into one transmittable bundle.
// Archive order is preserved in both the envelope and SubmissionIDs.
func MergeArchives(archives []Archive) (*Bundle, error) {
	if len(archives) == 0 {
		return nil, fmt.Errorf("cannot bundle zero archives")
	}
	var buf bytes.Buffer
	buf.WriteString("<TransferBundle>\n")
	ids := make([]string, 0, len(archives))
	for _, archive := range archives {
		ids = append(ids, archive.SubmissionID)
		fmt.Fprintf(&buf, "<Transfer id=%q>\n", archive.SubmissionID)
		buf.Write(archive.Manifest)
		buf.WriteByte('\n')
		buf.Write(archive.Body)
		buf.WriteString("\n</Transfer>\n")
	}
	buf.WriteString("</TransferBundle>\n")
	return &Bundle{SubmissionIDs: ids, Payload: buf.Bytes()}, nil
}
