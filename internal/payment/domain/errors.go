package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration       = errors.New("gateway_not_configured")
	ErrGatewayAuth         = errors.New("gateway_auth_failed")
	ErrGatewayUnavailable  = errors.New("gateway_unavailable")
	ErrGatewayRejected     = errors.New("gateway_rejected")
	ErrPaymentNotCompleted = errors.New("payment_not_completed")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidConfig       = errors.New("invalid_config")
	ErrProviderNotFound    = errors.New("provider_not_found")
	ErrEventIgnored        = errors.New("event_ignored")
	ErrInvalidGateway      = errors.New("invalid_gateway")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidOrderID      = errors.New("invalid_order_id")
)

// GatewayError carries the gateway's own reason for a failed call.
// It unwraps to one of ErrGatewayAuth, ErrGatewayRejected or ErrGatewayUnavailable.
type GatewayError struct {
	Gateway    string
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s %s: %v", e.Gateway, e.Operation, e.Err)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Reason is the gateway-provided explanation that is safe to show to callers.
func (e *GatewayError) Reason() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// ClassifyStatus maps an HTTP status from a gateway to the error it represents.
func ClassifyStatus(statusCode int) error {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrGatewayAuth
	case statusCode >= 500 || statusCode == 429 || statusCode == 408:
		return ErrGatewayUnavailable
	default:
		return ErrGatewayRejected
	}
}
