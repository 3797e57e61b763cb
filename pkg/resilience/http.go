package resilience

import (
	"fmt"
	"net/http"
)

// FromHTTPStatus maps a vendor HTTP status onto the failure taxonomy.
// Returns nil for 2xx.
func FromHTTPStatus(provider string, status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthError{Provider: provider, Message: body}
	case status == http.StatusTooManyRequests:
		return RateLimitError{Provider: provider, Message: body}
	case status == http.StatusPaymentRequired:
		return QuotaError{Provider: provider, Message: body}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return TimeoutError{Provider: provider, Message: body}
	}
	return fmt.Errorf("%s: http %d: %s", provider, status, body)
}
