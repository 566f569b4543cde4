package signing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/takumi-ono/scriptsign/internal/model"
)

// Outcome is the terminal state of a successful workflow run. Aborts are
// not outcomes; they are returned as errors.
type Outcome string

const (
	// OutcomeSigned: the script was signed and the verification echo ran.
	OutcomeSigned Outcome = "signed"

	// OutcomeCertificateChoice: no signing identity was supplied, so the
	// run stops after fetching the inventory. Choosing a certificate is a
	// human decision — the workflow never auto-selects one, not even when
	// the inventory holds a single entry.
	OutcomeCertificateChoice Outcome = "certificate-choice"
)

// RunOptions are the operator-supplied inputs of one workflow run.
type RunOptions struct {
	// ScriptPath is the script to sign, as given on the command line.
	ScriptPath string

	// CertThumbprint selects a keystore-resident certificate.
	CertThumbprint string

	// PfxPath and PfxPassword select a PFX container instead.
	PfxPath     string
	PfxPassword string

	// TimestampServer is the optional RFC 3161 countersigning authority.
	TimestampServer string
}

// RunResult is what a non-aborted workflow run produced.
type RunResult struct {
	// Outcome tells which terminal state the run reached.
	Outcome Outcome

	// ScriptPath is the canonicalized absolute path that was signed.
	ScriptPath string

	// Certificates is the inventory, in service order, when Outcome is
	// OutcomeCertificateChoice.
	Certificates []model.CertificateDescriptor

	// Sign carries the signature details when Outcome is OutcomeSigned.
	Sign *model.SignData

	// Verify carries the verification echo, when it succeeded.
	Verify *model.VerifyData

	// VerifyErr is the downgraded verification failure. Signing succeeded
	// is the authoritative outcome; a failed echo is reported as a warning
	// and never turns the run into a failure.
	VerifyErr error
}

// Workflow drives the signing state machine against one service client.
// Steps run strictly in order, each blocking until done; nothing is retried
// and no step is re-entered.
type Workflow struct {
	client *Client
	logf   func(format string, args ...interface{})
}

// NewWorkflow creates a Workflow on top of the given client.
func NewWorkflow(client *Client) *Workflow {
	return &Workflow{client: client}
}

// SetLogf installs a diagnostic logger for step-by-step trace output.
// A nil logger (the default) silences the trace.
func (w *Workflow) SetLogf(logf func(format string, args ...interface{})) {
	w.logf = logf
}

func (w *Workflow) log(format string, args ...interface{}) {
	if w.logf != nil {
		w.logf(format, args...)
	}
}

// ResolveScriptPath canonicalizes a script path and requires it to exist.
// Resolution happens once, before any network interaction, so every
// downstream call sees the same absolute path.
func ResolveScriptPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", model.WrapCLIError(model.KindScriptNotFound,
			fmt.Sprintf("cannot resolve script path %q", path), err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", model.NewCLIError(model.KindScriptNotFound,
				fmt.Sprintf("script not found: %s", abs))
		}
		return "", model.WrapCLIError(model.KindScriptNotFound,
			fmt.Sprintf("cannot access script: %s", abs), err)
	}
	if info.IsDir() {
		return "", model.NewCLIError(model.KindScriptNotFound,
			fmt.Sprintf("script path is a directory, not a file: %s", abs))
	}
	return abs, nil
}

// resolvePfxPath canonicalizes a PFX path with the same rules as the script
// path: it must exist before any request is built.
func resolvePfxPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", model.WrapCLIError(model.KindPfxNotFound,
			fmt.Sprintf("cannot resolve PFX path %q", path), err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", model.NewCLIError(model.KindPfxNotFound,
				fmt.Sprintf("PFX file not found: %s", abs))
		}
		return "", model.WrapCLIError(model.KindPfxNotFound,
			fmt.Sprintf("cannot access PFX file: %s", abs), err)
	}
	if info.IsDir() {
		return "", model.NewCLIError(model.KindPfxNotFound,
			fmt.Sprintf("PFX path is a directory, not a file: %s", abs))
	}
	return abs, nil
}

// Run executes the signing workflow:
//
//	resolve paths → check service → resolve identity → sign → verify
//
// Both file checks happen before the first network call, so a missing
// script or PFX aborts without any HTTP traffic. When the run needs a human
// to pick a certificate it returns OutcomeCertificateChoice with a nil
// error — the pause is a result, not a failure.
func (w *Workflow) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	// Step 1: canonicalize the script path.
	scriptPath, err := ResolveScriptPath(opts.ScriptPath)
	if err != nil {
		return nil, err
	}
	w.log("Script resolved to %s", scriptPath)

	// Step 2: canonicalize the PFX path, when one was supplied.
	pfxPath := ""
	if opts.PfxPath != "" {
		pfxPath, err = resolvePfxPath(opts.PfxPath)
		if err != nil {
			return nil, err
		}
		w.log("PFX resolved to %s", pfxPath)
	}

	// Step 3: liveness probe. Hard precondition: nothing is sent to the
	// signing endpoints unless the runtime acked here first.
	if err := w.client.CheckRuntime(ctx); err != nil {
		return nil, err
	}
	w.log("Signing service at %s is ready", w.client.BaseURL())

	// Step 4: resolve the signing identity. With neither a thumbprint nor
	// a PFX the run turns into an inventory listing for the operator.
	if opts.CertThumbprint == "" && pfxPath == "" {
		certs, err := w.client.ListCertificates(ctx)
		if err != nil {
			return nil, err
		}
		if len(certs) == 0 {
			return nil, model.NewCLIError(model.KindNoCertificatesFound,
				"no code-signing certificates are available; create one, or supply a PFX file with --pfx")
		}
		w.log("Found %d certificate(s); stopping for certificate choice", len(certs))
		return &RunResult{
			Outcome:      OutcomeCertificateChoice,
			ScriptPath:   scriptPath,
			Certificates: certs,
		}, nil
	}

	// Step 5: sign.
	signData, err := w.client.SignScript(ctx, model.SignRequest{
		ScriptPath:      scriptPath,
		CertThumbprint:  opts.CertThumbprint,
		PfxPath:         pfxPath,
		PfxPassword:     opts.PfxPassword,
		TimestampServer: opts.TimestampServer,
	})
	if err != nil {
		return nil, err
	}
	w.log("Signed %s: status %s", scriptPath, signData.Status)

	result := &RunResult{
		Outcome:    OutcomeSigned,
		ScriptPath: scriptPath,
		Sign:       signData,
	}

	// Step 6: verification echo, exactly once. Best effort: the signed
	// state is authoritative, so a failed echo is recorded as a warning
	// instead of reverting the run to a failure.
	verifyData, err := w.client.VerifySignature(ctx, scriptPath)
	if err != nil {
		w.log("Verification echo failed: %v", err)
		result.VerifyErr = err
		return result, nil
	}
	w.log("Verification status: %s", verifyData.Status)
	result.Verify = verifyData
	return result, nil
}
