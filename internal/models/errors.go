package models

import "errors"

// Error-kind sentinels, checked with errors.Is. These classify failures per
// the error-handling design: configuration errors are fatal at startup,
// transient/protocol/rate-limit errors degrade a single signal to missing,
// storage errors propagate, and inference errors null a single post or
// account's scores.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrTransientNetwork = errors.New("transient network error")
	ErrProtocol         = errors.New("protocol error")
	ErrRateLimit        = errors.New("rate limited")
	ErrStorage          = errors.New("storage error")
	ErrInference        = errors.New("inference error")
)
