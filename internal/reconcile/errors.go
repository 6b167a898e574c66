package reconcile

import "errors"

var (
	ErrMissingID     = errors.New("event payload carries no id")
	ErrUnknownStatus = errors.New("event carries an unknown status")
)

// User-facing notification texts.
const (
	MsgRequestAccepted  = "Your session request has been accepted! You have 5 minutes to confirm."
	MsgSessionJoinable  = "Session accepted! You can now join the session."
	MsgSessionBegan     = "Session has started! You can now begin your tutoring session."
	MsgRequestRejected  = "Your session request was rejected"
	MsgGracePeriodEnded = "Session expired - Tuto didn't start within 5 minutes"
)
