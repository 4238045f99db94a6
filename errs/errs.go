// Package errs holds the control-flow sentinel errors shared by the
// timeline, message, conversion, trigger, community, and dispersy
// packages. Wrapping a more specific error with one of these via
// fmt.Errorf("...: %w: %w", ErrDropPacket, specific, ...) lets callers
// branch on the general disposition with errors.Is while still keeping
// the precise reason for logging.
package errs

import "errors"

var (
	// ErrDropPacket: malformed, unverifiable, or semantically impossible.
	// Discarded silently by the caller; a counter is incremented.
	ErrDropPacket = errors.New("dispersy: drop packet")

	// ErrDelayPacket: undecodable pending external info (unknown signer
	// key). Held on the Trigger table and replayed when the next message
	// is applied in that community (the trigger matches any footprint);
	// no request for the missing key is sent.
	ErrDelayPacket = errors.New("dispersy: delay packet")

	// ErrDelayMessage: decoded but inapplicable right now (sequence gap).
	// Held on the Trigger table; a request for the missing range is sent.
	ErrDelayMessage = errors.New("dispersy: delay message")

	// ErrDelayMessageByProof: admission undecidable pending an Authorize
	// chain. Held on the Trigger table; no proof request is sent.
	ErrDelayMessageByProof = errors.New("dispersy: delay message by proof")

	// ErrConfigError: invariant violated at startup (missing
	// dispersy-sync privilege, duplicate privilege name). Fatal.
	ErrConfigError = errors.New("dispersy: config error")

	// ErrStorageError: transactional failure in the database. Rolled
	// back by the Facade; propagated to the caller.
	ErrStorageError = errors.New("dispersy: storage error")
)
