package inspection

import (
	"fmt"
	"strings"

	"fleetinspect/internal/errs"
)

type SyncState string

const (
	StateScheduled    SyncState = "scheduled"
	StateInProgress   SyncState = "in_progress"
	StatePendingSync  SyncState = "pending_sync"
	StateSynced       SyncState = "synced"
	StateCancelled    SyncState = "cancelled"
	StateInCorrection SyncState = "in_correction"
)

var transitions = map[SyncState][]SyncState{
	StateScheduled:    {StateInProgress, StateCancelled},
	StateInProgress:   {StatePendingSync, StateCancelled},
	StatePendingSync:  {StateSynced},
	StateSynced:       {StateInCorrection},
	StateInCorrection: {StateInProgress},
}

func ParseSyncState(raw string) (SyncState, error) {
	state := SyncState(strings.ToLower(strings.TrimSpace(raw)))
	switch state {
	case StateScheduled, StateInProgress, StatePendingSync, StateSynced, StateCancelled, StateInCorrection:
		return state, nil
	}
	return "", errs.Validation("sync_state", fmt.Sprintf("unknown value %q", raw))
}

func (s SyncState) CanTransitionTo(next SyncState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns next when the lifecycle allows it.
func (s SyncState) Transition(next SyncState) (SyncState, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", errs.ErrInvalidState, s, next)
	}
	return next, nil
}

// LocallyOwned reports whether local work is in flight and must not be
// overwritten by a remote refresh.
func (s SyncState) LocallyOwned() bool {
	return s == StateInProgress || s == StatePendingSync
}

// RemoteAuthoritative reports whether the server owns score, result and overrides.
func (s SyncState) RemoteAuthoritative() bool {
	return s == StateSynced || s == StateInCorrection
}
