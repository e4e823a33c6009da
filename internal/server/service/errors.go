package service

import "errors"

// Sentinel errors for the service layer. The API layer translates
// these into HTTP responses; everything else is a 500.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("access denied")
	ErrNotFound           = errors.New("file not found")
	ErrPayloadTooLarge    = errors.New("upload exceeds maximum allowed size")
	ErrDuplicateSession   = errors.New("upload session already exists")
	ErrSessionNotFound    = errors.New("upload session not found")
	ErrIncompleteUpload   = errors.New("upload is missing one or more chunks")
	ErrChecksumMismatch   = errors.New("chunk checksum mismatch")
	ErrFinalizeInProgress = errors.New("upload finalize already in progress")
	ErrUpstream           = errors.New("upstream storage failure")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
