package domain

import "errors"

var (
	// ErrValidation marks malformed or incomplete input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing record or campaign.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRunning is returned by Start while a campaign is active.
	// Only one campaign may run at a time.
	ErrAlreadyRunning = errors.New("a campaign is already running")

	// ErrNoActiveCampaign is returned by Cancel when no campaign is running.
	ErrNoActiveCampaign = errors.New("no active campaign")

	// ErrPersistence marks a table write failure. Reads never produce it:
	// an unreadable table loads as empty.
	ErrPersistence = errors.New("persistence error")
)
