package port

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds a single connection attempt. The timeout keeps
// the scan live when a port is silently filtered instead of refusing the
// connection; without it a single firewalled port could stall the whole scan.
const DefaultProbeTimeout = 200 * time.Millisecond

// DefaultStartPort and DefaultEndPort bound the scan range used when the
// caller does not specify one. The range sits above the well-known service
// ports and below the IANA ephemeral range, so a port found here is safe to
// hand to a locally started service.
const (
	DefaultStartPort = 11000
	DefaultEndPort   = 12000
)

// ErrNoFreePort is returned by FindAvailablePort when the scan reaches the
// end of the range without finding a free port. Callers distinguish it with
// errors.Is.
var ErrNoFreePort = errors.New("port range exhausted")

// Verdict classifies the outcome of probing a single port.
type Verdict int

const (
	// VerdictOccupied means a listener accepted the probe connection.
	VerdictOccupied Verdict = iota

	// VerdictFree means no listener responded; the port can be handed out.
	VerdictFree

	// VerdictInconclusive means the probe result cannot be trusted either
	// way. The scan skips inconclusive ports; they are never returned
	// as free.
	VerdictInconclusive
)

// String returns the string representation of the Verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictOccupied:
		return "occupied"
	case VerdictFree:
		return "free"
	case VerdictInconclusive:
		return "inconclusive"
	default:
		return "unknown"
	}
}

// ProbePolicy classifies a probe's dial error into a Verdict. A nil error
// means the connection succeeded and is always classified before the policy
// is consulted, so policies only see non-nil errors.
type ProbePolicy func(err error) Verdict

// DefaultProbePolicy treats every dial failure as a free port. This keeps
// the historical contract: a refused connection, a timeout on a filtered
// port, and an unrelated socket error all read as "no listener responded".
// A slow-to-refuse port can therefore be misreported as free; substitute a
// stricter policy where that matters.
func DefaultProbePolicy(err error) Verdict {
	return VerdictFree
}

// Prober checks whether TCP ports on the local host have a listener.
//
// The zero value is not usable; construct with NewProber and adjust the
// exported fields before the first probe if the defaults do not fit.
type Prober struct {
	// Host is the host probed for listeners. Defaults to "localhost".
	Host string

	// Timeout bounds each connection attempt.
	Timeout time.Duration

	// Policy classifies dial errors. Defaults to DefaultProbePolicy.
	Policy ProbePolicy
}

// NewProber creates a Prober with the default host, timeout, and policy.
func NewProber() *Prober {
	return &Prober{
		Host:    "localhost",
		Timeout: DefaultProbeTimeout,
		Policy:  DefaultProbePolicy,
	}
}

// Probe checks a single port and returns its Verdict.
//
// A successful connect always classifies as VerdictOccupied; the transient
// probe connection is closed immediately. Any dial error is classified by
// the configured policy.
func (p *Prober) Probe(port int) Verdict {
	addr := net.JoinHostPort(p.Host, strconv.Itoa(port))

	conn, err := net.DialTimeout("tcp", addr, p.Timeout)
	if err == nil {
		// Something is listening. The connection itself is of no use;
		// close it before reporting.
		_ = conn.Close()
		return VerdictOccupied
	}

	return p.Policy(err)
}

// FindAvailablePort scans [startPort, endPort] inclusive and returns the
// first port whose probe verdict is free. The scan is sequential from
// startPort upward and stops at the first hit, so the same free port is
// selected consistently across runs.
//
// Occupied and inconclusive ports are skipped. When the scan reaches the end
// of the range without a hit (including the empty scan of an inverted
// range), the returned error wraps ErrNoFreePort.
func (p *Prober) FindAvailablePort(startPort, endPort int) (int, error) {
	for port := startPort; port <= endPort; port++ {
		if p.Probe(port) == VerdictFree {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free TCP port in range %d-%d: %w", startPort, endPort, ErrNoFreePort)
}
