// Package fault defines the error taxonomy shared across the service.
//
// Components return *fault.Error values carrying a Kind so callers can
// branch on the class of failure without string matching. Plain sentinel
// errors remain in use inside packages where a taxonomy kind adds nothing.
package fault
