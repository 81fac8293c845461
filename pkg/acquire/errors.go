package acquire

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCredential marks a provider success that carried no value.
	ErrEmptyCredential = errors.New("provider returned an empty credential")
	// ErrAcquisitionExhausted is matched by the terminal error of an abandoned campaign.
	ErrAcquisitionExhausted = errors.New("credential acquisition exhausted")
	// ErrCampaignInProgress is returned by Start while a campaign has not reached a terminal state.
	ErrCampaignInProgress = errors.New("credential campaign already in progress")
	// ErrCampaignCancelled is the cause recorded for a cancelled campaign.
	ErrCampaignCancelled = errors.New("credential campaign cancelled")
	// ErrInvalidConfig is matched by every Config validation failure.
	ErrInvalidConfig = errors.New("invalid acquisition config")
)

// ExhaustedError is the terminal cause of an abandoned campaign.
// It matches both ErrAcquisitionExhausted and the last provider failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("credential acquisition exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrAcquisitionExhausted}
	}
	return []error{ErrAcquisitionExhausted, e.Last}
}
