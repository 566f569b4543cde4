// Package model defines the domain types and value objects for the
// scriptsign CLI.
//
// This package contains pure data structures with no external dependencies.
// The wire-facing types (CertificateDescriptor, SignRequest, SignData,
// VerifyData) mirror the JSON shapes of the local signing service: request
// bodies use camelCase field names, response payloads carry the PascalCase
// field names the signing runtime reports.
//
// The package also defines the error taxonomy (ErrorKind), a CLI error type
// (CLIError) that carries a kind for programmatic handling, and the process
// exit codes (ExitCode).
package model
