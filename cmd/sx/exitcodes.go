package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (runtime failure)
	ExitConfigError = 2 // Configuration error (missing config, invalid paths)
	ExitDataError   = 3 // Validation error (bad query parameters, malformed input)
	ExitNotFound    = 4 // Unknown paper ID
	ExitBackend     = 5 // Embedding/extraction backend or store unavailable
)
