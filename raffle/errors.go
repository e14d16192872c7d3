package raffle

import "golang.org/x/xerrors"

var (
	// ErrInsufficientFee is returned when an entry pays less than the
	// entrance fee.
	ErrInsufficientFee = xerrors.New("insufficient entrance fee")
	// ErrRoundNotOpen is returned for entries while a draw is in flight.
	ErrRoundNotOpen = xerrors.New("raffle round is not open")
	// ErrNotEligible is returned when a draw is started before all
	// eligibility conditions hold.
	ErrNotEligible = xerrors.New("raffle is not eligible for a draw")
	// ErrAlreadyInProgress is returned when a draw is already in flight.
	// It wraps ErrNotEligible since a calculating round is never eligible.
	ErrAlreadyInProgress = xerrors.Errorf("draw already in progress: %w", ErrNotEligible)
	// ErrUpkeepNotNeeded is returned by PerformUpkeep when the eligibility
	// signal went stale.
	ErrUpkeepNotNeeded = xerrors.Errorf("upkeep not needed: %w", ErrNotEligible)
	// ErrUnknownRequest is returned for fulfillments that do not match the
	// pending request.
	ErrUnknownRequest = xerrors.New("unknown or stale randomness request")
	// ErrTransferFailed is returned when the payout could not be made.
	ErrTransferFailed = xerrors.New("payout transfer failed")

	ErrNoRandomWords    = xerrors.New("at least one random word is required")
	ErrNoParticipants   = xerrors.New("no participants")
	ErrInvalidAddress   = xerrors.New("invalid participant address")
	ErrPoolOverflow     = xerrors.New("pool balance overflow")
	ErrRequestFailed    = xerrors.New("randomness request failed")
	ErrIndexOutOfRange  = xerrors.New("participant index out of range")
	ErrSnapshotMismatch = xerrors.New("participants changed while calculating")
	ErrInvalidUpkeep    = xerrors.New("invalid upkeep data")
)
