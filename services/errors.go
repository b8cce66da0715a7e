package services

import "errors"

// Workflow errors. Routes map these to HTTP statuses in one place; the
// orchestrator never translates a component failure into a vaguer one.
var (
	// ErrNotFound covers both genuinely missing resources and resources the
	// caller is not allowed to know exist. A non-participant probing a
	// thread gets the same answer as a probe for a thread that was never
	// created.
	ErrNotFound = errors.New("resource not found")

	// ErrNotParticipant is returned for callers outside the thread's two
	// parties. Routes serve it as 404, never 403, so outsiders cannot
	// confirm a thread exists.
	ErrNotParticipant = errors.New("caller is not a thread participant")

	// ErrNotBuyer is returned when a known participant attempts a
	// buyer-only operation (checkout).
	ErrNotBuyer = errors.New("caller is not the buyer")

	// ErrNotSender is returned when someone other than the original sender
	// attempts to delete a message.
	ErrNotSender = errors.New("caller is not the message sender")

	// ErrAlreadyTerminal is returned on transitions against a signed or
	// rejected document, or a resolved payment intent.
	ErrAlreadyTerminal = errors.New("document is already in a terminal state")

	// ErrContractNotSigned gates checkout: the listing's transfer agreement
	// must be fully signed first.
	ErrContractNotSigned = errors.New("transfer agreement is not signed")

	// ErrIntentAlreadyActive is the double-charge guard: an unresolved
	// payment intent already holds the (thread, listing) slot.
	ErrIntentAlreadyActive = errors.New("an unresolved payment intent already exists for this deal")

	// ErrNoActiveIntent is returned by cancellation when there is nothing
	// to cancel.
	ErrNoActiveIntent = errors.New("no active payment intent for this deal")

	// ErrValidation covers bad input shape rejected before any write.
	ErrValidation = errors.New("invalid input")

	// ErrProcessorUnavailable wraps payment processor network failures and
	// timeouts. Eligible for caller-driven retry; never retried server-side.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
)
