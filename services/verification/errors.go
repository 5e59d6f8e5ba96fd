package verification

import "errors"

var (
	ErrDuplicateClaim     = errors.New("duplicate claim")
	ErrEvidenceIncomplete = errors.New("evidence incomplete")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrNotFound           = errors.New("engagement not found")
)
