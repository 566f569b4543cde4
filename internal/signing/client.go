package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/takumi-ono/scriptsign/internal/model"
)

// DefaultServiceURL is the base URL the CLI falls back to when neither a
// flag nor a config file supplies one.
const DefaultServiceURL = "http://localhost:20000"

// Service endpoint paths. The service runs its signing operations through a
// hosted PowerShell runtime, hence the name of the liveness endpoint.
const (
	checkPath  = "/api/check-powershell"
	certsPath  = "/api/list-certificates"
	signPath   = "/api/sign-script"
	verifyPath = "/api/verify-signature"
)

const (
	// statusTimeout bounds the liveness probe. The probe must answer fast;
	// a service that cannot ack within two seconds is treated as down.
	statusTimeout = 2 * time.Second

	// requestTimeout bounds the certificate, sign, and verify calls.
	// Signing blocks on the service's runtime and can legitimately take a
	// while, so the bound is generous; expiry surfaces as the respective
	// request failure, never as a retry.
	requestTimeout = 120 * time.Second
)

// ServiceError is the typed form of a failure response from the signing
// service. It is resolved exactly once, at the HTTP boundary: when the
// response body parses as the service's JSON envelope the structured error
// message is extracted, otherwise the raw body text is carried as-is.
type ServiceError struct {
	// StatusCode is the HTTP status of the failing response. A failure
	// reported inside a 200 envelope (success=false) keeps status 200.
	StatusCode int

	// Message is the error detail shown to the operator.
	Message string

	// Structured reports whether Message came from the envelope's error
	// field rather than raw response text.
	Structured bool
}

// Error satisfies the error interface.
func (e *ServiceError) Error() string {
	return e.Message
}

// resolveServiceError classifies a failure response body. Extraction is
// attempted once here so parse-and-fallback logic does not leak into the
// workflow.
func resolveServiceError(statusCode int, body []byte) *ServiceError {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
		return &ServiceError{StatusCode: statusCode, Message: env.Error, Structured: true}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(statusCode)
	}
	return &ServiceError{StatusCode: statusCode, Message: text}
}

// envelope is the common {success, data, error} wrapper the service uses
// for sign and verify responses. Data stays raw until the caller knows
// which payload type to decode.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// statusResponse is the body of the liveness endpoint.
type statusResponse struct {
	Available bool `json:"available"`
}

// certificatesResponse is the body of the certificate inventory endpoint.
type certificatesResponse struct {
	Certificates []model.CertificateDescriptor `json:"certificates"`
}

// Client talks HTTP+JSON to the local code-signing service.
//
// Usage:
//
//	c := signing.NewClient("http://localhost:20000")
//	if err := c.CheckRuntime(ctx); err != nil { /* service not ready */ }
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a Client for the service at baseURL. A trailing slash
// on the URL is tolerated. Timeouts are applied per call, not on the
// underlying http.Client, because the liveness probe and the signing calls
// need very different bounds.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultServiceURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
	}
}

// BaseURL returns the normalized service base URL, for operator-facing
// messages.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do issues one request and returns the response status and body. A nil
// error only means the HTTP exchange completed; the caller still has to
// interpret the status code and body.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// unreachableError builds the ServiceUnreachable abort with the remediation
// guidance every connection-level failure shares.
func (c *Client) unreachableError(err error) *model.CLIError {
	return model.WrapCLIError(model.KindServiceUnreachable,
		fmt.Sprintf("signing service is not reachable at %s; start the service, or point --service-url at the right address", c.baseURL),
		err)
}

// CheckRuntime probes the service's liveness endpoint. It returns nil only
// when the service answered within the probe timeout AND reported its
// signing runtime as available.
//
// This is the hard precondition of the signing workflow: no signing request
// is ever sent without a prior successful check.
func (c *Client) CheckRuntime(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	status, body, err := c.do(probeCtx, http.MethodGet, checkPath, nil)
	if err != nil {
		return c.unreachableError(err)
	}
	if status != http.StatusOK {
		return c.unreachableError(resolveServiceError(status, body))
	}

	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return c.unreachableError(fmt.Errorf("invalid liveness response: %w", err))
	}
	if !sr.Available {
		return model.NewCLIError(model.KindRuntimeUnavailable,
			"signing service answered, but its signing runtime is not available; check the service logs and restart it")
	}
	return nil
}

// ListCertificates fetches the certificate inventory. The service-defined
// order is preserved; the list is never re-sorted. An empty inventory is
// returned as an empty slice, not an error; the workflow decides what an
// empty inventory means.
func (c *Client) ListCertificates(ctx context.Context) ([]model.CertificateDescriptor, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	status, body, err := c.do(reqCtx, http.MethodGet, certsPath, nil)
	if err != nil {
		return nil, c.unreachableError(err)
	}
	if status != http.StatusOK {
		return nil, model.WrapCLIError(model.KindServiceUnreachable,
			"failed to query the certificate inventory", resolveServiceError(status, body))
	}

	var cr certificatesResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, model.WrapCLIError(model.KindServiceUnreachable,
			"failed to query the certificate inventory", fmt.Errorf("invalid inventory response: %w", err))
	}
	return cr.Certificates, nil
}

// SignScript submits a signing request. A transport failure, a non-2xx
// response, and a 200 envelope carrying success=false are all equivalent:
// the signing attempt aborted, with the service's error detail attached.
// Signing is never retried.
func (c *Client) SignScript(ctx context.Context, req model.SignRequest) (*model.SignData, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	status, body, err := c.do(reqCtx, http.MethodPost, signPath, req)
	if err != nil {
		return nil, model.WrapCLIError(model.KindSignRequestFailed, "signing request failed", err)
	}

	data := &model.SignData{}
	if err := decodeEnvelope(status, body, data); err != nil {
		return nil, model.WrapCLIError(model.KindSignRequestFailed, "signing request failed", err)
	}
	return data, nil
}

// VerifySignature asks the service to verify the signature on the script at
// the given absolute path.
func (c *Client) VerifySignature(ctx context.Context, scriptPath string) (*model.VerifyData, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	status, body, err := c.do(reqCtx, http.MethodPost, verifyPath, model.VerifyRequest{ScriptPath: scriptPath})
	if err != nil {
		return nil, model.WrapCLIError(model.KindVerifyRequestFailed, "verification request failed", err)
	}

	data := &model.VerifyData{}
	if err := decodeEnvelope(status, body, data); err != nil {
		return nil, model.WrapCLIError(model.KindVerifyRequestFailed, "verification request failed", err)
	}
	return data, nil
}

// decodeEnvelope interprets a sign/verify response: non-2xx and
// success=false both resolve to a ServiceError, a successful envelope has
// its data payload decoded into out.
func decodeEnvelope(status int, body []byte, out interface{}) error {
	if status != http.StatusOK {
		return resolveServiceError(status, body)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("invalid service response: %w", err)
	}
	if !env.Success {
		return resolveServiceError(status, body)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("invalid service response data: %w", err)
		}
	}
	return nil
}
