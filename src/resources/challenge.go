package resources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrTransport         = errors.New("verifier unreachable")
	ErrMalformedResponse = errors.New("malformed verifier response")
	ErrMissingToken      = errors.New("missing challenge token")
	ErrMissingSecret     = errors.New("missing verifier secret")
)

// maxVerifierBody caps how much of the verifier reply is read.
const maxVerifierBody = 64 * 1024

type Outcome int

const (
	VerifiedSuccess Outcome = iota
	VerifiedFailure
	TransportError
	MalformedResponse
)

func (o Outcome) String() string {
	switch o {
	case VerifiedSuccess:
		return "verified_success"
	case VerifiedFailure:
		return "verified_failure"
	case TransportError:
		return "transport_error"
	case MalformedResponse:
		return "malformed_response"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// SiteVerifyResponse is the reply shared by reCAPTCHA and hCaptcha siteverify
// endpoints. Fields a provider does not send stay zero.
type SiteVerifyResponse struct {
	Success     bool     `json:"success"`
	ChallengeTs string   `json:"challenge_ts,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
	Score       float32  `json:"score,omitempty"`
	Action      string   `json:"action,omitempty"`
	Credit      bool     `json:"credit,omitempty"`
}

type Result struct {
	Outcome  Outcome
	Response *SiteVerifyResponse
	Raw      []byte
	Err      error
}

func (r Result) Verified() bool {
	return r.Outcome == VerifiedSuccess
}

// ErrorCodes returns the provider error codes, if any were reported.
func (r Result) ErrorCodes() []string {
	if r.Response == nil {
		return nil
	}
	return r.Response.ErrorCodes
}

func transportFailure(err error) Result {
	return Result{Outcome: TransportError, Err: fmt.Errorf("%w: %v", ErrTransport, err)}
}

// ChallengeVerifier judges a challenge token against a provider.
type ChallengeVerifier interface {
	Provider() Provider
	Verify(ctx context.Context, token, remoteIP string) Result
}

// Verifier posts tokens to a siteverify endpoint over plain HTTP.
type Verifier struct {
	provider Provider
	client   *http.Client
}

func NewVerifier(provider Provider, timeout time.Duration) (*Verifier, error) {
	return NewVerifierWithClient(provider, &http.Client{Timeout: timeout})
}

func NewVerifierWithClient(provider Provider, client *http.Client) (*Verifier, error) {
	if strings.TrimSpace(provider.Secret) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingSecret, provider.Name)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Verifier{provider: provider, client: client}, nil
}

func (v *Verifier) Provider() Provider {
	return v.provider
}

func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) Result {
	if token == "" {
		return Result{Outcome: VerifiedFailure, Err: ErrMissingToken}
	}

	form := url.Values{}
	form.Set("secret", v.provider.Secret)
	form.Set("response", token)
	form.Set("remoteip", remoteIP)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.provider.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return transportFailure(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxVerifierBody))
	if err != nil {
		return transportFailure(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{
			Outcome: TransportError,
			Raw:     raw,
			Err:     fmt.Errorf("%w: %s returned status %d", ErrTransport, v.provider.Name, resp.StatusCode),
		}
	}

	return interpretReply(raw)
}

func interpretReply(raw []byte) Result {
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Result{Outcome: MalformedResponse, Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if probe.Success == nil {
		return Result{Outcome: MalformedResponse, Raw: raw, Err: fmt.Errorf("%w: success field missing", ErrMalformedResponse)}
	}

	var body SiteVerifyResponse
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&body); err != nil {
		return Result{Outcome: MalformedResponse, Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	if body.Success {
		return Result{Outcome: VerifiedSuccess, Response: &body, Raw: raw}
	}
	return Result{Outcome: VerifiedFailure, Response: &body, Raw: raw}
}
