package config

import "errors"

var (
	// ErrInvalidConcurrency is returned when concurrency is not greater than 0
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout must be greater than 0")
	// ErrEmptyDatabasePath is returned when database path is empty
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
	// ErrInvalidMaxDepth is returned when max depth is negative
	ErrInvalidMaxDepth = errors.New("max_depth cannot be negative")
	// ErrInvalidLimit is returned when limit is negative
	ErrInvalidLimit = errors.New("limit cannot be negative")
	// ErrInvalidPattern is returned when an include or exclude pattern does not compile
	ErrInvalidPattern = errors.New("invalid URL pattern")
	// ErrInvalidChangeFreq is returned for a changefreq outside the sitemap protocol
	ErrInvalidChangeFreq = errors.New("invalid sitemap changefreq")
	// ErrInvalidHeader is returned when a custom header is not "Name: value"
	ErrInvalidHeader = errors.New("header must be in 'Name: value' format")
	// ErrInvalidRenderTimeout is returned when rendering is enabled without a navigation timeout
	ErrInvalidRenderTimeout = errors.New("render.navigation_timeout must be greater than 0")
)
