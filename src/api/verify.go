package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"CaptchaGate/src/resources"

	"github.com/gin-gonic/gin"
)

type VerifyOptions struct {
	// Timeout bounds the outbound verifier call.
	Timeout time.Duration
	// EchoRaw writes the verifier's raw reply ahead of the status text.
	EchoRaw bool
}

// VerifyChallenge reads the provider's token field from a form POST and
// answers with the provider's fixed status text.
func VerifyChallenge(gate *resources.Gate, opts VerifyOptions) gin.HandlerFunc {
	provider := gate.Provider()

	return func(c *gin.Context) {
		token := strings.TrimSpace(c.PostForm(provider.TokenField))

		ctx := c.Request.Context()
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		res, err := gate.Check(ctx, token, c.ClientIP())
		if errors.Is(err, resources.ErrRateLimited) {
			if wait := gate.RetryAfter(ctx, c.ClientIP()); wait > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
			writeText(c, http.StatusTooManyRequests, resources.TooManyAttemptsMessage)
			return
		}
		if errors.Is(res.Err, resources.ErrMissingToken) {
			writeText(c, http.StatusBadRequest, provider.FailureMessage)
			return
		}

		var body strings.Builder
		if opts.EchoRaw && len(res.Raw) > 0 {
			body.Write(res.Raw)
			body.WriteString("\n")
		}

		status := http.StatusOK
		switch res.Outcome {
		case resources.VerifiedSuccess:
			body.WriteString(provider.SuccessMessage)
		case resources.VerifiedFailure:
			body.WriteString(provider.FailureMessage)
		default:
			status = http.StatusBadGateway
			body.WriteString(resources.VerifierDownMessage)
		}
		writeText(c, status, body.String())
	}
}

// InvalidAccess is the single answer for any method other than POST on a
// verification route.
func InvalidAccess(c *gin.Context) {
	writeText(c, http.StatusMethodNotAllowed, resources.InvalidAccessMessage)
}

// writeText sends s verbatim; the verifier reply may contain format verbs.
func writeText(c *gin.Context, status int, s string) {
	c.Data(status, "text/plain; charset=utf-8", []byte(s))
}
