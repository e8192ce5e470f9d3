package engine

import "errors"

// Errors surfaced to callers of the engine's control API. Everything else
// is contained: logged, dropped, or handled by the crash recovery path.
var (
	ErrInvalidArguments                = errors.New("invalid arguments")
	ErrInvalidTrackID                  = errors.New("invalid track id")
	ErrInvalidFormat                   = errors.New("invalid format")
	ErrInvalidDefaultSimulcastEncoding = errors.New("invalid default simulcast encoding")
	ErrTimeout                         = errors.New("timed out")
	ErrEngineClosed                    = errors.New("engine is closed")
)
