package game

import "errors"

// Kind classifies an Error for callers that only care about the broad
// category, such as the HTTP layer picking a status code.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state"
	KindConflict        Kind = "conflict"
	KindPolicyDenied    Kind = "policy_denied"
	KindAlreadyExpired  Kind = "already_expired"
	KindInvalidArgument Kind = "invalid_argument"
	KindContention      Kind = "contention"
)

// Error is a business-rule rejection. Reason identifies the specific rule;
// Kind groups reasons into classes.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches a sentinel by reason, or a class sentinel (no reason) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason != "" {
		return e.Reason == t.Reason
	}
	return e.Kind == t.Kind
}

// Class sentinels.
var (
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidState    = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict"}
	ErrPolicyDenied    = &Error{Kind: KindPolicyDenied, Message: "denied by policy"}
	ErrAlreadyExpired  = &Error{Kind: KindAlreadyExpired, Message: "session time has expired"}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrContention      = &Error{Kind: KindContention, Message: "storage contention, retries exhausted"}
)

var (
	ErrSessionNotFound    = &Error{Kind: KindNotFound, Reason: "session_not_found", Message: "session not found"}
	ErrControllerNotFound = &Error{Kind: KindNotFound, Reason: "controller_not_found", Message: "controller not found"}
	ErrCheckpointNotFound = &Error{Kind: KindNotFound, Reason: "checkpoint_not_found", Message: "checkpoint not found"}
	ErrStorylineNotFound  = &Error{Kind: KindNotFound, Reason: "storyline_not_found", Message: "storyline not found"}
	ErrPhotoNotFound      = &Error{Kind: KindNotFound, Reason: "photo_not_found", Message: "session has no profile photo"}
	ErrNoActiveSession    = &Error{Kind: KindNotFound, Reason: "no_active_session", Message: "no active session for this RFID tag"}
	ErrNoSessionForTag    = &Error{Kind: KindNotFound, Reason: "no_session_for_tag", Message: "no session found for this RFID tag"}

	ErrNotApproved      = &Error{Kind: KindInvalidState, Reason: "not_approved", Message: "session is not approved"}
	ErrNotPending       = &Error{Kind: KindInvalidState, Reason: "not_pending", Message: "session is not pending"}
	ErrSessionNotActive = &Error{Kind: KindInvalidState, Reason: "session_not_active", Message: "session is not active"}
	ErrSessionTerminal  = &Error{Kind: KindInvalidState, Reason: "session_terminal", Message: "session has already finished"}

	ErrSessionExpired = &Error{Kind: KindAlreadyExpired, Reason: "session_expired", Message: "session time has expired"}

	ErrTagInUse = &Error{Kind: KindConflict, Reason: "rfid_tag_in_use", Message: "RFID tag is assigned to another approved session"}

	ErrExtensionDenied = &Error{Kind: KindPolicyDenied, Reason: "extension_denied", Message: "extending sessions is disabled"}
	ErrReductionDenied = &Error{Kind: KindPolicyDenied, Reason: "reduction_denied", Message: "reducing sessions is disabled"}
)

// Invalid returns an InvalidArgument error with the given message.
func Invalid(message string) error {
	return &Error{Kind: KindInvalidArgument, Reason: "invalid_argument", Message: message}
}

// KindOf reports the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// ReasonOf reports the reason of err, falling back to its kind.
func ReasonOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	if e.Reason != "" {
		return e.Reason
	}
	return string(e.Kind)
}
