package ride

import "errors"

var (
	// ErrRideActive: a new offer or accept would overwrite an owned ride.
	ErrRideActive = errors.New("another ride is already active")
	// ErrNoActiveRide: the operation needs an owned ride and there is none.
	ErrNoActiveRide = errors.New("no active ride")
	// ErrNotOnTheWay: accept/reject outside the offered state.
	ErrNotOnTheWay = errors.New("no pending ride offer")
	// ErrOTPNotAssigned: verification attempted before the server delivered
	// the OTP. Blocking precondition, not a mismatch.
	ErrOTPNotAssigned = errors.New("otp not yet received from server")
	// ErrOTPMismatch: local validation failure, nothing reported upstream.
	ErrOTPMismatch = errors.New("entered otp does not match")
	// ErrNotStarted: complete requires a started ride.
	ErrNotStarted = errors.New("ride must be started to complete")
	// ErrNoLocation: the operation needs a current fix and none exists.
	ErrNoLocation = errors.New("current location unknown")
	// ErrNotOnline: ride actions require online presence.
	ErrNotOnline = errors.New("driver is not online")
	// ErrOfflineBlocked: manual offline refused while a ride is active.
	ErrOfflineBlocked = errors.New("cannot go offline during an active ride")
	// ErrActionInFlight: duplicate tap suppressed by the reentrancy guard.
	ErrActionInFlight = errors.New("action already in flight")
)
