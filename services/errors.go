package services

import "errors"

// Caller defects: the adapter sent something it should never send. Logged at
// error severity, never retried.
var (
	ErrUnknownUser     = errors.New("unknown user")
	ErrUnknownPlatform = errors.New("unknown platform")
)

// Contest lifecycle and distribution integrity failures. Rejected with a
// specific reason, logged at warn, never silently ignored.
var (
	ErrNoActiveContest           = errors.New("no active contest")
	ErrNoPausedContest           = errors.New("no paused contest")
	ErrContestNotFound           = errors.New("contest not found")
	ErrContestNotCompleted       = errors.New("contest not completed")
	ErrRewardsAlreadyDistributed = errors.New("rewards already distributed")
)

// Claim state machine failures. Each combination gets its own reason; a
// generic claim error is never returned.
var (
	ErrRewardNotFound       = errors.New("reward not found")
	ErrRewardNotOwner       = errors.New("reward belongs to another user")
	ErrRewardAlreadyClaimed = errors.New("reward already claimed")
	ErrRewardExpired        = errors.New("reward expired")
)

// Verification failures.
var (
	ErrCodeInvalid   = errors.New("verification code invalid")
	ErrCodeUsed      = errors.New("verification code already used")
	ErrCodeExpired   = errors.New("verification code expired")
	ErrAlreadyLinked = errors.New("platform account already linked")
)
