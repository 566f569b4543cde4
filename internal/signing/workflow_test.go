package signing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-ono/scriptsign/internal/model"
)

// stubService is a fake signing service for workflow tests. Besides serving
// canned responses, it counts the requests each endpoint received; the
// workflow's ordering guarantees are all statements about which calls were
// and were not issued.
type stubService struct {
	mu sync.Mutex

	// Canned behavior, adjusted per test before the workflow runs.
	available    bool
	certs        []model.CertificateDescriptor
	signStatus   int
	signBody     string
	verifyStatus int
	verifyBody   string

	// Recorded traffic.
	checkCalls  int
	listCalls   int
	signCalls   int
	verifyCalls int
	lastSign    model.SignRequest

	srv *httptest.Server
}

// newStubService starts a stub whose defaults describe a healthy service
// that signs and verifies successfully.
func newStubService(t *testing.T) *stubService {
	t.Helper()

	s := &stubService{
		available:    true,
		signStatus:   http.StatusOK,
		signBody:     `{"success": true, "data": {"Status": "Valid", "SignedBy": "CN=Dev Code Signing"}}`,
		verifyStatus: http.StatusOK,
		verifyBody:   `{"success": true, "data": {"Status": "Valid"}}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/check-powershell", s.handleCheck)
	mux.HandleFunc("/api/list-certificates", s.handleList)
	mux.HandleFunc("/api/sign-script", s.handleSign)
	mux.HandleFunc("/api/verify-signature", s.handleVerify)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// workflow returns a Workflow wired to the stub.
func (s *stubService) workflow() *Workflow {
	return NewWorkflow(NewClient(s.srv.URL))
}

// counts returns the per-endpoint request counts.
func (s *stubService) counts() (check, list, sign, verify int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkCalls, s.listCalls, s.signCalls, s.verifyCalls
}

// lastSignRequest returns the most recently decoded signing request body.
func (s *stubService) lastSignRequest() model.SignRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSign
}

func (s *stubService) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.checkCalls++
	available := s.available
	s.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]bool{"available": available})
}

func (s *stubService) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.listCalls++
	certs := s.certs
	s.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]interface{}{"certificates": certs})
}

func (s *stubService) handleSign(w http.ResponseWriter, r *http.Request) {
	var req model.SignRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.signCalls++
	s.lastSign = req
	status, body := s.signStatus, s.signBody
	s.mu.Unlock()

	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (s *stubService) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.verifyCalls++
	status, body := s.verifyStatus, s.verifyBody
	s.mu.Unlock()

	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// writeScript creates a script file in a fresh temp directory and returns
// its path.
func writeScript(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "deploy.ps1")
	require.NoError(t, os.WriteFile(path, []byte("Write-Output 'hello'\n"), 0o644))
	return path
}

// TestResolveScriptPath verifies the canonicalization rules: uncanonical
// inputs resolve to a clean absolute path, missing files and directories
// are rejected before anything else happens.
func TestResolveScriptPath(t *testing.T) {
	script := writeScript(t)
	dir := filepath.Dir(script)

	t.Run("cleans dot segments", func(t *testing.T) {
		// Built by concatenation: filepath.Join would clean the ".." away
		// before the resolver ever sees it.
		got, err := ResolveScriptPath(filepath.FromSlash(dir + "/sub/../deploy.ps1"))
		require.NoError(t, err)
		assert.Equal(t, script, got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ResolveScriptPath(filepath.Join(dir, "missing.ps1"))
		cliErr := requireKind(t, err, model.KindScriptNotFound)
		assert.Contains(t, cliErr.Message, "script not found")
	})

	t.Run("directory is not a script", func(t *testing.T) {
		_, err := ResolveScriptPath(dir)
		cliErr := requireKind(t, err, model.KindScriptNotFound)
		assert.Contains(t, cliErr.Message, "directory")
	})
}

// TestRunMissingScriptIssuesNoRequests verifies the path-resolution
// precondition: a missing script aborts before any network interaction.
func TestRunMissingScriptIssuesNoRequests(t *testing.T) {
	stub := newStubService(t)

	_, err := stub.workflow().Run(context.Background(), RunOptions{
		ScriptPath:     filepath.Join(t.TempDir(), "missing.ps1"),
		CertThumbprint: "AB12CD34",
	})
	requireKind(t, err, model.KindScriptNotFound)

	check, list, sign, verify := stub.counts()
	assert.Zero(t, check+list+sign+verify, "no HTTP request may be issued for a missing script")
}

// TestRunMissingPfxIssuesNoRequests verifies the PFX file check runs with
// the same precondition semantics as the script check.
func TestRunMissingPfxIssuesNoRequests(t *testing.T) {
	stub := newStubService(t)

	_, err := stub.workflow().Run(context.Background(), RunOptions{
		ScriptPath: writeScript(t),
		PfxPath:    filepath.Join(t.TempDir(), "missing.pfx"),
	})
	requireKind(t, err, model.KindPfxNotFound)

	check, list, sign, verify := stub.counts()
	assert.Zero(t, check+list+sign+verify, "no HTTP request may be issued for a missing PFX")
}

// TestRunRuntimeUnavailableStopsBeforeSigning verifies the liveness probe
// is a hard precondition: an unavailable runtime means no certificate,
// sign, or verify call is ever made.
func TestRunRuntimeUnavailableStopsBeforeSigning(t *testing.T) {
	stub := newStubService(t)
	stub.available = false

	_, err := stub.workflow().Run(context.Background(), RunOptions{
		ScriptPath:     writeScript(t),
		CertThumbprint: "AB12CD34",
	})
	requireKind(t, err, model.KindRuntimeUnavailable)

	check, list, sign, verify := stub.counts()
	assert.Equal(t, 1, check)
	assert.Zero(t, list+sign+verify, "an unavailable runtime must stop the workflow at the probe")
}

// TestRunServiceUnreachable verifies a dead service aborts the workflow
// with the unreachable kind and its remediation guidance.
func TestRunServiceUnreachable(t *testing.T) {
	workflow := NewWorkflow(NewClient(deadServerURL(t)))

	_, err := workflow.Run(context.Background(), RunOptions{
		ScriptPath:     writeScript(t),
		CertThumbprint: "AB12CD34",
	})
	cliErr := requireKind(t, err, model.KindServiceUnreachable)
	assert.Contains(t, cliErr.Message, "start the service")
}

// TestRunWithoutIdentityListsAndStops verifies the human decision point:
// with no identity supplied the workflow returns the full inventory in
// service order and never signs, even though signing would have succeeded.
func TestRunWithoutIdentityListsAndStops(t *testing.T) {
	notAfter := time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC)
	stub := newStubService(t)
	stub.certs = []model.CertificateDescriptor{
		{Subject: "CN=Zeta", Thumbprint: "CCCC", NotAfter: notAfter},
		{Subject: "CN=Alpha", Thumbprint: "AAAA", NotAfter: notAfter},
		{Subject: "CN=Mid", Thumbprint: "BBBB", NotAfter: notAfter},
	}

	result, err := stub.workflow().Run(context.Background(), RunOptions{ScriptPath: writeScript(t)})
	require.NoError(t, err, "the certificate pause is a result, not a failure")

	assert.Equal(t, OutcomeCertificateChoice, result.Outcome)
	require.Len(t, result.Certificates, 3)
	assert.Equal(t, "CN=Zeta", result.Certificates[0].Subject)
	assert.Equal(t, "CN=Alpha", result.Certificates[1].Subject)
	assert.Equal(t, "CN=Mid", result.Certificates[2].Subject)

	_, list, sign, verify := stub.counts()
	assert.Equal(t, 1, list)
	assert.Zero(t, sign+verify, "listing certificates must never lead to signing")
}

// TestRunSingleCertificateIsNotAutoSelected pins the safety rule that even
// an inventory of exactly one certificate pauses for a human choice.
func TestRunSingleCertificateIsNotAutoSelected(t *testing.T) {
	stub := newStubService(t)
	stub.certs = []model.CertificateDescriptor{
		{Subject: "CN=Only Cert", Thumbprint: "AAAA", NotAfter: time.Now().AddDate(1, 0, 0)},
	}

	result, err := stub.workflow().Run(context.Background(), RunOptions{ScriptPath: writeScript(t)})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCertificateChoice, result.Outcome)

	_, _, sign, _ := stub.counts()
	assert.Zero(t, sign, "a single available certificate must still be an explicit choice")
}

// TestRunEmptyInventoryFails verifies that having nothing to sign with is
// an abort with operator guidance, unlike the informational listing.
func TestRunEmptyInventoryFails(t *testing.T) {
	stub := newStubService(t)
	stub.certs = nil

	_, err := stub.workflow().Run(context.Background(), RunOptions{ScriptPath: writeScript(t)})
	cliErr := requireKind(t, err, model.KindNoCertificatesFound)
	assert.Contains(t, cliErr.Message, "--pfx")

	_, _, sign, verify := stub.counts()
	assert.Zero(t, sign+verify)
}

// TestRunSignTriggersVerifyExactlyOnce verifies the two-phase protocol: a
// successful signing is followed by exactly one verification call.
func TestRunSignTriggersVerifyExactlyOnce(t *testing.T) {
	stub := newStubService(t)

	result, err := stub.workflow().Run(context.Background(), RunOptions{
		ScriptPath:     writeScript(t),
		CertThumbprint: "AB12CD34",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSigned, result.Outcome)
	require.NotNil(t, result.Sign)
	assert.Equal(t, "CN=Dev Code Signing", result.Sign.SignedBy)
	require.NotNil(t, result.Verify)
	assert.NoError(t, result.VerifyErr)

	check, list, sign, verify := stub.counts()
	assert.Equal(t, 1, check)
	assert.Zero(t, list, "a supplied thumbprint skips the inventory")
	assert.Equal(t, 1, sign)
	assert.Equal(t, 1, verify, "verification runs exactly once after a successful signing")
}

// TestRunSignRequestCarriesResolvedInputs verifies the request the service
// actually receives: the canonicalized absolute script path and the
// caller's identity and timestamp inputs.
func TestRunSignRequestCarriesResolvedInputs(t *testing.T) {
	stub := newStubService(t)
	script := writeScript(t)
	uncanonical := filepath.FromSlash(filepath.Dir(script) + "/sub/../deploy.ps1")

	_, err := stub.workflow().Run(context.Background(), RunOptions{
		ScriptPath:      uncanonical,
		CertThumbprint:  "AB12CD34",
		TimestampServer: "http://timestamp.example.test",
	})
	require.NoError(t, err)

	req := stub.lastSignRequest()
	assert.Equal(t, script, req.ScriptPath, "the service must see the canonical path, not the input")
	assert.Equal(t, "AB12CD34", req.CertThumbprint)
	assert.Equal(t, "http://timestamp.example.test", req.TimestampServer)
	assert.Empty(t, req.PfxPath)
	assert.Empty(t, req.PfxPassword)
}

// TestRunPfxIdentity verifies the PFX flavor of the request: the PFX path
// is canonicalized like the script path and the password rides along.
func TestRunPfxIdentity(t *testing.T) {
	stub := newStubService(t)

	pfxDir := t.TempDir()
	pfxPath := filepath.Join(pfxDir, "dev-signing.pfx")
	require.NoError(t, os.WriteFile(pfxPath, []byte{0x30, 0x82}, 0o600))

	_, err := stub.workflow().Run(context.Background(), RunOptions{
		ScriptPath:  writeScript(t),
		PfxPath:     filepath.FromSlash(pfxDir + "/sub/../dev-signing.pfx"),
		PfxPassword: "secret",
	})
	require.NoError(t, err)

	req := stub.lastSignRequest()
	assert.Equal(t, pfxPath, req.PfxPath)
	assert.Equal(t, "secret", req.PfxPassword)
	assert.Empty(t, req.CertThumbprint)
}

// TestRunSignEnvelopeFailureSkipsVerify verifies that success=false aborts
// the run before verification, surfacing the structured error.
func TestRunSignEnvelopeFailureSkipsVerify(t *testing.T) {
	stub := newStubService(t)
	stub.signBody = `{"success": false, "error": "certificate not found in store"}`

	_, err := stub.workflow().Run(context.Background(), RunOptions{
		ScriptPath:     writeScript(t),
		CertThumbprint: "AB12CD34",
	})
	requireKind(t, err, model.KindSignRequestFailed)
	assert.Contains(t, err.Error(), "certificate not found in store")

	_, _, sign, verify := stub.counts()
	assert.Equal(t, 1, sign)
	assert.Zero(t, verify, "a failed signing must never be verified")
}

// TestRunSignTransportFailureSkipsVerify verifies the transport-failure
// flavor of the same rule.
func TestRunSignTransportFailureSkipsVerify(t *testing.T) {
	stub := newStubService(t)
	stub.signStatus = http.StatusInternalServerError
	stub.signBody = "signing host process crashed"

	_, err := stub.workflow().Run(context.Background(), RunOptions{
		ScriptPath:     writeScript(t),
		CertThumbprint: "AB12CD34",
	})
	requireKind(t, err, model.KindSignRequestFailed)

	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.False(t, svcErr.Structured)
	assert.Equal(t, "signing host process crashed", svcErr.Message)

	_, _, _, verify := stub.counts()
	assert.Zero(t, verify)
}

// TestRunVerifyFailureIsWarningOnly verifies the deliberate downgrade: the
// signed state is authoritative, so a failed verification echo is recorded
// on the result instead of failing the run.
func TestRunVerifyFailureIsWarningOnly(t *testing.T) {
	stub := newStubService(t)
	stub.verifyStatus = http.StatusInternalServerError
	stub.verifyBody = "verifier crashed"

	result, err := stub.workflow().Run(context.Background(), RunOptions{
		ScriptPath:     writeScript(t),
		CertThumbprint: "AB12CD34",
	})
	require.NoError(t, err, "a failed verification echo must not fail the signed run")

	assert.Equal(t, OutcomeSigned, result.Outcome)
	require.NotNil(t, result.Sign)
	assert.Nil(t, result.Verify)

	requireKind(t, result.VerifyErr, model.KindVerifyRequestFailed)

	_, _, sign, verify := stub.counts()
	assert.Equal(t, 1, sign)
	assert.Equal(t, 1, verify, "the echo is attempted exactly once, failed or not")
}

// TestRunReportsVerifyStatusVerbatim is the round-trip property: whatever
// status the verification endpoint reports is the status the run result
// carries, even when it contradicts the signing response.
func TestRunReportsVerifyStatusVerbatim(t *testing.T) {
	tests := []struct {
		name         string
		verifyStatus string
	}{
		{name: "matching status", verifyStatus: "Valid"},
		{name: "mismatched status", verifyStatus: "HashMismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStubService(t)
			stub.verifyBody = `{"success": true, "data": {"Status": "` + tt.verifyStatus + `"}}`

			result, err := stub.workflow().Run(context.Background(), RunOptions{
				ScriptPath:     writeScript(t),
				CertThumbprint: "AB12CD34",
			})
			require.NoError(t, err, "a status mismatch is reporting material, not a failure")

			assert.Equal(t, "Valid", result.Sign.Status)
			require.NotNil(t, result.Verify)
			assert.Equal(t, tt.verifyStatus, result.Verify.Status)
		})
	}
}
