package cmd

import (
	"fmt"

	"remoteauth/pkg/oauth"
)

// AuthRequiredError indicates that no usable token exists and the command
// was not allowed to run the authorization flow.
type AuthRequiredError struct {
	// ServerURL is the resource server that requires authentication.
	ServerURL string
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Authentication required for %s

To authenticate, run:
  remoteauth login %s`, e.ServerURL, e.ServerURL)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthFailedError indicates that the authorization flow or a refresh ran and
// failed.
type AuthFailedError struct {
	// ServerURL is the resource server where authentication failed.
	ServerURL string
	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly error message with actionable guidance.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication failed for %s: %v

To retry authentication, run:
  remoteauth login %s`, e.ServerURL, e.Reason, e.ServerURL)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}

// classifyFlowError wraps protocol failures as AuthFailedError. Setup
// problems (configuration, storage) and unclassified errors pass through and
// map to the general exit code.
func classifyFlowError(serverURL string, err error) error {
	switch oauth.KindOf(err) {
	case oauth.KindDiscovery, oauth.KindRegistration, oauth.KindRedirect,
		oauth.KindTimeout, oauth.KindExchange:
		return &AuthFailedError{ServerURL: serverURL, Reason: err}
	default:
		return err
	}
}
