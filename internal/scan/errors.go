package scan

import "errors"

var (
	// ErrScanInProgress is returned when a scan is triggered while another holds the scan lock.
	ErrScanInProgress = errors.New("a scan is already in progress")
	// ErrScanNotFound is returned for an unknown scan id.
	ErrScanNotFound = errors.New("scan not found")
)
