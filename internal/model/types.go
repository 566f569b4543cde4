package model

import (
	"fmt"
	"time"
)

// CertificateDescriptor is one entry from the signing service's certificate
// inventory. It is an immutable snapshot owned by the service; the CLI only
// displays descriptors and references them by thumbprint.
//
// The JSON field names are PascalCase because the service forwards the
// certificate objects exactly as the signing runtime enumerates them from
// the platform keystore.
type CertificateDescriptor struct {
	// Subject is the certificate's subject distinguished name,
	// e.g. "CN=Dev Code Signing".
	Subject string `json:"Subject"`

	// Thumbprint is the certificate's unique fingerprint, used to select
	// a signing identity via the sign command's --thumbprint flag.
	Thumbprint string `json:"Thumbprint"`

	// NotAfter is the end of the certificate's validity period.
	NotAfter time.Time `json:"NotAfter"`
}

// Expired reports whether the certificate's validity period has ended
// relative to the given reference time.
func (c *CertificateDescriptor) Expired(ref time.Time) bool {
	return c.NotAfter.Before(ref)
}

// String returns a one-line human-readable representation of the descriptor.
func (c *CertificateDescriptor) String() string {
	return fmt.Sprintf("%s (%s, expires %s)", c.Subject, c.Thumbprint, c.NotAfter.Format("2006-01-02"))
}

// SignRequest is the body of a POST /api/sign-script call. It is constructed
// fresh for every invocation and never persisted.
//
// Exactly one of CertThumbprint or PfxPath is expected to be set for the
// request to be meaningful. The CLI does not enforce that itself; it is a
// precondition the service may reject.
type SignRequest struct {
	// ScriptPath is the canonicalized absolute path of the script to sign.
	// Path resolution happens once, before any network interaction.
	ScriptPath string `json:"scriptPath"`

	// CertThumbprint selects a keystore-resident certificate by fingerprint.
	CertThumbprint string `json:"certThumbprint,omitempty"`

	// PfxPath is the absolute path of a PFX container file, the alternative
	// to a keystore-resident certificate.
	PfxPath string `json:"pfxPath,omitempty"`

	// PfxPassword unlocks the PFX container. Only sent when PfxPath is set.
	PfxPassword string `json:"pfxPassword,omitempty"`

	// TimestampServer is the URL of an RFC 3161 timestamp authority to
	// countersign with. Empty means the service signs without a timestamp.
	TimestampServer string `json:"timestampServer,omitempty"`
}

// VerifyRequest is the body of a POST /api/verify-signature call.
type VerifyRequest struct {
	// ScriptPath is the canonicalized absolute path of the script to check.
	ScriptPath string `json:"scriptPath"`
}

// SignData is the payload of a successful signing response, carrying the
// signature details the runtime reports after signing.
type SignData struct {
	// Status is the signature status the runtime reports, e.g. "Valid".
	Status string `json:"Status"`

	// SignedBy is the subject of the certificate that produced the signature.
	SignedBy string `json:"SignedBy"`

	// TimeStamper is the subject of the timestamp authority's certificate.
	// Empty when no timestamp server was used.
	TimeStamper string `json:"TimeStamper,omitempty"`

	// SignatureType is the kind of signature applied, e.g. "Authenticode".
	SignatureType string `json:"SignatureType,omitempty"`
}

// VerifyData is the payload of a successful verification response.
type VerifyData struct {
	// Status is the signature status of the script, e.g. "Valid" or
	// "NotSigned".
	Status string `json:"Status"`

	// StatusMessage is the runtime's human-readable detail for Status.
	StatusMessage string `json:"StatusMessage,omitempty"`
}

// StatusValid is the signature status the runtime reports for an intact,
// trusted signature. Any other status means the script should not be trusted.
const StatusValid = "Valid"

// Valid reports whether the verification payload describes an intact,
// trusted signature.
func (v *VerifyData) Valid() bool {
	return v.Status == StatusValid
}

// ErrorKind classifies the failures the CLI surfaces to the operator.
// Kinds distinguish messaging and remediation guidance; they do not map to
// distinct exit codes. Every abort exits with ExitFailure.
type ErrorKind string

const (
	// KindScriptNotFound: the target script path does not resolve to an
	// existing file. Checked before any network interaction.
	KindScriptNotFound ErrorKind = "script-not-found"

	// KindPfxNotFound: the supplied PFX path does not resolve to an
	// existing file. Checked before any network interaction, identically
	// to the script path.
	KindPfxNotFound ErrorKind = "pfx-not-found"

	// KindServiceUnreachable: the signing service did not answer at the
	// configured base URL (connection failure, timeout, or an HTTP error
	// on the liveness probe).
	KindServiceUnreachable ErrorKind = "service-unreachable"

	// KindRuntimeUnavailable: the service answered but reported that its
	// signing runtime is not available.
	KindRuntimeUnavailable ErrorKind = "runtime-unavailable"

	// KindNoCertificatesFound: the certificate inventory is empty and no
	// signing identity was supplied.
	KindNoCertificatesFound ErrorKind = "no-certificates"

	// KindSignRequestFailed: the signing request failed, either at the
	// transport level or because the service reported success=false.
	KindSignRequestFailed ErrorKind = "sign-failed"

	// KindVerifyRequestFailed: the verification request failed. Inside the
	// sign workflow this kind is downgraded to a warning; the standalone
	// verify command surfaces it as a hard error.
	KindVerifyRequestFailed ErrorKind = "verify-failed"

	// KindSignatureInvalid: standalone verification completed but the
	// script's signature status is not "Valid".
	KindSignatureInvalid ErrorKind = "signature-invalid"

	// KindInvalidArgument: a flag or configuration value failed validation
	// before any work was attempted.
	KindInvalidArgument ErrorKind = "invalid-argument"
)

// String returns the string representation of the ErrorKind.
func (k ErrorKind) String() string {
	return string(k)
}

// IsValid checks whether the ErrorKind is one of the predefined kinds.
func (k ErrorKind) IsValid() bool {
	switch k {
	case KindScriptNotFound, KindPfxNotFound, KindServiceUnreachable,
		KindRuntimeUnavailable, KindNoCertificatesFound,
		KindSignRequestFailed, KindVerifyRequestFailed,
		KindSignatureInvalid, KindInvalidArgument:
		return true
	default:
		return false
	}
}

// ExitCode defines the CLI exit code contract: 0 for a successful run or an
// informational listing, 1 for every abort. Scripts must check the exit code
// before trusting stdout.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully. This
	// includes the certificate list-and-stop flow of the sign command and
	// a sign run whose verification echo failed (warning only).
	ExitSuccess ExitCode = 0

	// ExitFailure indicates the command aborted. All ErrorKinds map here.
	ExitFailure ExitCode = 1
)

// CLIError is the error type surfaced to the CLI layer. It carries an
// ErrorKind for programmatic handling and an optional underlying cause.
type CLIError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Message is the human-readable error description, including any
	// remediation guidance for the operator.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given kind and message.
func NewCLIError(kind ErrorKind, message string) *CLIError {
	return &CLIError{Kind: kind, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(kind ErrorKind, message string, err error) *CLIError {
	return &CLIError{Kind: kind, Message: message, Err: err}
}
