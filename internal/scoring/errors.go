package scoring

import "errors"

var (
	// ErrInvalidWeights is returned when a weight update is rejected.
	ErrInvalidWeights = errors.New("invalid scoring weights")
	// ErrInvalidThresholds is returned when a threshold update is rejected.
	ErrInvalidThresholds = errors.New("invalid validation thresholds")
	// ErrOpportunityNotFound is returned when scoring an unknown opportunity.
	ErrOpportunityNotFound = errors.New("opportunity not found")
)
