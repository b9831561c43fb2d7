package service

import "errors"

var (
	// ErrSuperseded ends a run whose session was replaced by a newer start.
	ErrSuperseded        = errors.New("orchestrator: superseded by a newer session")
	ErrInvalidTransition = errors.New("orchestrator: invalid state transition")
	// ErrAllFailed fails a Score or Describe step in which no solution succeeded.
	ErrAllFailed = errors.New("orchestrator: every solution failed")
)
