package app

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("document not found")
	ErrNotOwner          = errors.New("document belongs to another owner")
	ErrAlreadyProcessing = errors.New("document is already being processed")
)
