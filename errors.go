package main

import "github.com/pkg/errors"

// Error taxonomy used by command handlers (spec §7). A handler returns one
// of these (or wraps one with errors.Wrap) and dispatch maps it to a
// numeric reply or a connection-terminal action.
var (
	ErrNeedMoreParams    = errors.New("need more params")
	ErrNoTextToSend      = errors.New("no text to send")
	ErrNotRegistered     = errors.New("not registered")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrAccessDenied      = errors.New("access denied")
	ErrUnknownCommand    = errors.New("unknown command")
)

// ErrNicknameInUse is ERR_NICKNAMEINUSE (433).
type ErrNicknameInUse struct {
	Nick string
}

func (e ErrNicknameInUse) Error() string { return "nickname in use: " + e.Nick }

// ErrErroneousNickname is ERR_ERRONEUSNICKNAME (432).
type ErrErroneousNickname struct {
	Nick string
}

func (e ErrErroneousNickname) Error() string { return "erroneous nickname: " + e.Nick }

// ErrQuit is a terminal error: the connection lifecycle writes ERROR and
// closes the connection with this message.
type ErrQuit struct {
	Message string
}

func (e ErrQuit) Error() string { return "quit: " + e.Message }

// ErrStartTLS is a pseudo-error: it signals the lifecycle to perform the
// in-place TLS upgrade before continuing the handshake loop, rather than
// indicating failure.
type ErrStartTLS struct{}

func (e ErrStartTLS) Error() string { return "starttls requested" }

// ErrInternal wraps an error that should be logged in full but shown to
// the client only as a generic message; the connection may continue.
type ErrInternal struct {
	Cause error
}

func (e ErrInternal) Error() string { return "internal error: " + e.Cause.Error() }

func (e ErrInternal) Unwrap() error { return e.Cause }
