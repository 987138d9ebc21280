package domain

import "errors"

var (
	ErrNotFound          = errors.New("purchase_not_found")
	ErrAlreadyOwned      = errors.New("already_owned")
	ErrDuplicateOrder    = errors.New("duplicate_gateway_order")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrStorage           = errors.New("purchase_storage_error")
	ErrInvalidRecord     = errors.New("invalid_purchase_record")
)
