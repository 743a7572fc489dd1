// Package acks tracks submissions awaiting acknowledgement from the
// downstream filing system and resolves their final outcome.
//
// After a bundle is submitted, each submission in it is recorded as
// pending. A poller periodically asks the filing system for the status
// of pending submissions in batches. When a lookup batch fails with a
// toolkit error the poller bisects the batch to isolate the poisoned
// submission while still resolving the healthy ones.
package acks
