// Package port implements free-port discovery for the scriptsign CLI.
//
// The Prober checks candidate ports by attempting a short-timeout TCP
// connection to localhost: a successful connect means a listener is present
// (the port is occupied), a refused or failed connect means the port is
// free. FindAvailablePort scans a range sequentially and returns the first
// free port, so the lowest free port in the range always wins.
//
// Probe classification is isolated behind a ProbePolicy so the default
// behavior (any dial error, including a timeout, counts as free) can be
// replaced with stricter semantics, such as treating a timeout as
// inconclusive and skipping the port, without touching the scan loop.
package port
