package resources

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event describes one finished verification. It carries no token or secret.
type Event struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Outcome    string    `json:"outcome"`
	RemoteIP   string    `json:"remote_ip,omitempty"`
	ErrorCodes []string  `json:"error_codes,omitempty"`
	At         time.Time `json:"at"`
}

// Gate runs the full check for one provider: attempt limiting, replay
// guard, the verifier call, logging and event publication.
type Gate struct {
	verifier ChallengeVerifier
	limiter  *AttemptLimiter
	logger   *zap.Logger
	publish  func(Event)
	now      func() time.Time
}

type GateOption func(*Gate)

func WithLimiter(limiter *AttemptLimiter) GateOption {
	return func(g *Gate) { g.limiter = limiter }
}

func WithPublisher(publish func(Event)) GateOption {
	return func(g *Gate) { g.publish = publish }
}

func NewGate(verifier ChallengeVerifier, logger *zap.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		verifier: verifier,
		logger:   logger.With(zap.String("provider", verifier.Provider().Name)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Provider() Provider {
	return g.verifier.Provider()
}

// Check verifies token for remoteIP. The returned error is non-nil only when
// the attempt was refused before verification (ErrRateLimited); every other
// condition is reported through the Result.
func (g *Gate) Check(ctx context.Context, token, remoteIP string) (Result, error) {
	if token == "" {
		res := Result{Outcome: VerifiedFailure, Err: ErrMissingToken}
		g.finish(remoteIP, res)
		return res, nil
	}

	name := g.Provider().Name
	if err := g.limiter.Allow(ctx, name, remoteIP); err != nil {
		if errors.Is(err, ErrRateLimited) {
			g.logger.Info("verification attempt throttled", zap.String("remote_ip", remoteIP))
			return Result{}, err
		}
		g.logger.Warn("attempt limiter unavailable, continuing", zap.Error(err))
	}

	claimed := false
	if err := g.limiter.Claim(ctx, name, token); err != nil {
		if errors.Is(err, ErrTokenReplayed) {
			res := Result{
				Outcome:  VerifiedFailure,
				Response: &SiteVerifyResponse{ErrorCodes: []string{errorCodeTimeoutDuplicate}},
				Err:      err,
			}
			g.finish(remoteIP, res)
			return res, nil
		}
		g.logger.Warn("replay guard unavailable, continuing", zap.Error(err))
	} else {
		claimed = true
	}

	res := g.verifier.Verify(ctx, token, remoteIP)
	if claimed && (res.Outcome == TransportError || res.Outcome == MalformedResponse) {
		// the provider never judged the token, so it is still spendable
		if err := g.limiter.Release(context.WithoutCancel(ctx), name, token); err != nil {
			g.logger.Warn("could not release token claim", zap.Error(err))
		}
	}
	g.finish(remoteIP, res)
	return res, nil
}

// RetryAfter reports how long remoteIP has to wait after ErrRateLimited.
// Zero when unknown.
func (g *Gate) RetryAfter(ctx context.Context, remoteIP string) time.Duration {
	d, err := g.limiter.RetryAfter(ctx, g.Provider().Name, remoteIP)
	if err != nil {
		g.logger.Warn("attempt limiter unavailable", zap.Error(err))
		return 0
	}
	return d
}

func (g *Gate) finish(remoteIP string, res Result) {
	ev := Event{
		ID:         uuid.NewString(),
		Provider:   g.Provider().Name,
		Outcome:    res.Outcome.String(),
		RemoteIP:   remoteIP,
		ErrorCodes: res.ErrorCodes(),
		At:         g.now().UTC(),
	}

	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("outcome", ev.Outcome),
		zap.String("remote_ip", remoteIP),
	}
	if len(ev.ErrorCodes) > 0 {
		fields = append(fields, zap.Strings("error_codes", ev.ErrorCodes))
	}
	switch res.Outcome {
	case TransportError, MalformedResponse:
		g.logger.Warn("verifier call failed", append(fields, zap.Error(res.Err))...)
	case VerifiedFailure:
		if res.Err != nil {
			fields = append(fields, zap.Error(res.Err))
		}
		g.logger.Info("challenge rejected", fields...)
	default:
		g.logger.Debug("challenge accepted", fields...)
	}

	if g.publish != nil {
		g.publish(ev)
	}
}
