package usecase

import "errors"

var (
	// ErrRefreshBusy reports that a library refresh is already running and
	// the new request was skipped rather than queued.
	ErrRefreshBusy = errors.New("refresh already running")
)
