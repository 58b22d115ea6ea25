// Package services implements the business logic between the HTTP layer and
// the stores: the queue operations exposed to workers and the webhook ingest
// pipeline. This file centralizes service-level error values so they can be
// consistently returned by service methods and checked by callers.
//
// Translation into HTTP statuses is performed at the handler layer.
package services

import "errors"

var (
	// ErrNotConfirmed is returned by ConfirmAndClose when no corroborating
	// reply evidence was found in the scanned log window. It is a
	// recoverable, expected condition: the claimed record is left untouched
	// and the caller is expected to poll again, not to treat it as failure.
	ErrNotConfirmed = errors.New("reply not confirmed yet")
)
