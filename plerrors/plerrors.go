package plerrors

import "fmt"

// Stage identifies which layer of the relay stack failed.
type Stage string

const (
	StageAdmission Stage = "admission"
	StageProtocol  Stage = "protocol"
	StageCrypto    Stage = "crypto"
	StageTransport Stage = "transport"
	StageCommand   Stage = "command"
	StageStore     Stage = "store"
)

// Code is a stable, programmatic error identifier for user-facing operations.
type Code string

const (
	// Admission.
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"

	// Protocol.
	CodeUnknownType     Code = "unknown_type"
	CodeMissingField    Code = "missing_field"
	CodeRoleViolation   Code = "role_violation"
	CodeNotPaired       Code = "not_paired"
	CodeTargetOffline   Code = "target_offline"
	CodePairingExpired  Code = "pairing_expired"
	CodePairingNotFound Code = "pairing_not_found"
	CodeWrongUser       Code = "pairing_wrong_user"
	CodeInvalidFormat   Code = "invalid_format"

	// Crypto.
	CodeNoSession      Code = "no_session"
	CodeReplayRejected Code = "replay_rejected"
	CodeAuthFailed     Code = "auth_failed"

	// Transport.
	CodeConnectFailed   Code = "connect_failed"
	CodeTimeout         Code = "timeout"
	CodeCanceled        Code = "canceled"
	CodeUnexpectedClose Code = "unexpected_close"

	// Command.
	CodeChannelNotAllowed Code = "channel_not_allowed"
	CodeHandlerError      Code = "handler_error"
	CodeCommandTimeout    Code = "command_timeout"

	// Store.
	CodeStoreCorrupt Code = "store_corrupt"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured error around err. err may be nil when the
// stage/code pair carries the whole meaning.
func Wrap(stage Stage, code Code, err error) error {
	return &Error{Stage: stage, Code: code, Err: err}
}
