package syncer

import "errors"

// Connection-level failures. Either one aborts the sync of a single
// connection; neither ever aborts a scheduler tick.
var (
	// ErrCredential means the access token could not be refreshed. The
	// connection most likely needs user re-authorization; it is not
	// retried beyond the normal schedule.
	ErrCredential = errors.New("credential refresh failed")

	// ErrSourceUnavailable covers transport, permission, and not-found
	// failures from the spreadsheet source, including timeouts. Retried
	// on the next natural tick.
	ErrSourceUnavailable = errors.New("spreadsheet source unavailable")
)
