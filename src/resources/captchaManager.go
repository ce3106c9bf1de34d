package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	recaptcha2 "github.com/xinguang/go-recaptcha"
)

// sdkClient is the part of go-recaptcha the verifier uses.
type sdkClient interface {
	VerifyWithOptions(token string, options recaptcha2.VerifyOption) error
}

// SDKRecaptchaVerifier checks reCAPTCHA tokens through go-recaptcha instead
// of the generic form client. The library reports every rejection as an
// error and does not expose the raw reply, so transport problems and
// rejections both surface as VerifiedFailure here.
type SDKRecaptchaVerifier struct {
	provider Provider
	client   sdkClient
}

// NewSDKRecaptchaVerifier also lowers the global logrus level to warn.
// go-recaptcha switches logrus to debug on import and logs the outgoing form,
// secret included, at info level.
func NewSDKRecaptchaVerifier(secret string) (*SDKRecaptchaVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingSecret, recaptchaProviderName)
	}
	logrus.SetLevel(logrus.WarnLevel)
	client, err := recaptcha2.NewWithSecert(secret)
	if err != nil {
		return nil, err
	}
	return &SDKRecaptchaVerifier{
		provider: Recaptcha(secret, RecaptchaEndpoint),
		client:   client,
	}, nil
}

func (v *SDKRecaptchaVerifier) Provider() Provider {
	return v.provider
}

func (v *SDKRecaptchaVerifier) Verify(ctx context.Context, token, remoteIP string) Result {
	if token == "" {
		return Result{Outcome: VerifiedFailure, Err: ErrMissingToken}
	}
	if err := ctx.Err(); err != nil {
		return transportFailure(err)
	}
	if err := v.client.VerifyWithOptions(token, recaptcha2.VerifyOption{RemoteIP: remoteIP}); err != nil {
		return Result{Outcome: VerifiedFailure, Err: err}
	}
	return Result{Outcome: VerifiedSuccess, Response: &SiteVerifyResponse{Success: true}}
}
