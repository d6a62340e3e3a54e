// Package paymenterr holds the error taxonomy shared by the gateway components.
// Callers wrap these sentinels with github.com/pkg/errors and test them with errors.Is.
package paymenterr

import "github.com/pkg/errors"

var (
	// ErrConfiguration means merchant credentials are missing or invalid. Never retried against the bank.
	ErrConfiguration = errors.New("payment system not configured")

	// ErrValidation covers bad input detected before any network interaction.
	ErrValidation = errors.New("invalid payment request")

	// ErrSecurityViolation is returned for callbacks that fail signature verification.
	ErrSecurityViolation = errors.New("callback signature verification failed")

	// ErrGatewayDecline means the bank explicitly refused the transaction.
	ErrGatewayDecline = errors.New("payment declined by gateway")

	// ErrTransport is a retryable failure reaching the bank or a collaborator.
	ErrTransport = errors.New("payment gateway unreachable")
)

// Is reports whether err is any of the taxonomy sentinels in targets.
func Is(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
