// Package signing implements the client for the local code-signing service
// and the sign-then-verify workflow built on top of it.
//
// The Client wraps net/http with the service's four endpoints: the liveness
// probe, the certificate inventory, script signing, and signature
// verification. Failure responses are resolved once, at the HTTP boundary,
// into a typed ServiceError carrying either the service's structured error
// message or the raw response text.
//
// The Workflow drives the strictly linear signing state machine: resolve the
// script path, check the service, resolve a signing identity, sign, then
// re-verify. Certificate selection is a human decision point. When no
// identity is supplied the workflow returns the inventory for the operator
// to choose from and stops without signing.
package signing
