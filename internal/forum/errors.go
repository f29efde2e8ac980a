package forum

import "errors"

// Sentinel errors making up the forum's error taxonomy. Services return
// these (possibly wrapped); the HTTP and websocket layers map them with
// errors.Is.
var (
	// ErrAccessDenied: the requester has no right to the room or
	// operation. Deliberately carries no detail about why.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound: the room or message reference does not exist. Only
	// returned for genuinely unknown IDs, never as a disguise for a
	// permission failure.
	ErrNotFound = errors.New("not found")

	// ErrValidation: malformed input such as an empty body or bad
	// pagination parameters.
	ErrValidation = errors.New("validation failed")

	// ErrRoomInactive: send attempted on a deactivated room. Distinct from
	// ErrAccessDenied so clients can render "this conversation is closed".
	ErrRoomInactive = errors.New("room inactive")
)
