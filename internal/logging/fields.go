package logging

// Standardized structured logging keys. Components use these constants so the
// same concept never appears under two names.
const (
	// FieldComponent identifies the emitting component.
	FieldComponent = "component"
	// FieldBatch carries the durable-storage key of a submission batch.
	FieldBatch = "batch"
	// FieldBatchID carries the numeric batch identifier.
	FieldBatchID = "batch_id"
	// FieldSubmissionID carries a submission identifier.
	FieldSubmissionID = "submission_id"
	// FieldAction carries an action kind while the handler drives the state machine.
	FieldAction = "action"
	// FieldCorrelationID ties all log lines of one action execution together.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies machine-readable pipeline events.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next diagnostic step for an operator.
	FieldErrorHint = "error_hint"
)
