package pricer

import "errors"

// Errors returned before any crawling starts. Everything that can go wrong
// during a crawl is reported inside the returned values instead.
var (
	ErrEmptyTitle       = errors.New("pricer: empty title")
	ErrUnknownCategory  = errors.New("pricer: unknown category")
	ErrUnknownCondition = errors.New("pricer: unknown condition")
	ErrInvalidLimits    = errors.New("pricer: invalid limits")
	ErrNoSources        = errors.New("pricer: no sources configured")
	ErrClosed           = errors.New("pricer: service shut down")
)
