package domain

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnknownModel     = errors.New("unknown model")
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderError    = errors.New("provider error")
	ErrGatewayError     = errors.New("payment gateway error")
	ErrInvoiceNotFound  = errors.New("invoice not found")
)
