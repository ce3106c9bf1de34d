package resources

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubVerifier struct {
	mu       sync.Mutex
	provider Provider
	result   Result
	calls    int
}

func (s *stubVerifier) Provider() Provider { return s.provider }

func (s *stubVerifier) Verify(context.Context, string, string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result
}

func (s *stubVerifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func TestGateForwardsToVerifierAndPublishes(t *testing.T) {
	stub := &stubVerifier{
		provider: Recaptcha("s", ""),
		result:   Result{Outcome: VerifiedFailure, Response: &SiteVerifyResponse{ErrorCodes: []string{"bad-request"}}},
	}
	sink := &eventSink{}
	core, logs := observer.New(zap.InfoLevel)
	gate := NewGate(stub, zap.New(core), WithPublisher(sink.publish))
	gate.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	res, err := gate.Check(context.Background(), "tok", "192.0.2.10")
	require.NoError(t, err)
	assert.Equal(t, VerifiedFailure, res.Outcome)
	assert.Equal(t, 1, stub.callCount())

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "recaptcha", ev.Provider)
	assert.Equal(t, "verified_failure", ev.Outcome)
	assert.Equal(t, "192.0.2.10", ev.RemoteIP)
	assert.Equal(t, []string{"bad-request"}, ev.ErrorCodes)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ev.At)

	entries := logs.FilterMessage("challenge rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "recaptcha", entries[0].ContextMap()["provider"])
}

func TestGateMissingTokenSkipsVerifier(t *testing.T) {
	stub := &stubVerifier{provider: Hcaptcha("s", ""), result: Result{Outcome: VerifiedSuccess}}
	sink := &eventSink{}
	gate := NewGate(stub, zap.NewNop(), WithPublisher(sink.publish))

	res, err := gate.Check(context.Background(), "", "192.0.2.10")
	require.NoError(t, err)
	assert.Equal(t, VerifiedFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrMissingToken)
	assert.Zero(t, stub.callCount())
	assert.Len(t, sink.events, 1)
}

func TestGateRateLimits(t *testing.T) {
	_, cache := newTestCache(t)
	stub := &stubVerifier{provider: Hcaptcha("s", ""), result: Result{Outcome: VerifiedSuccess}}
	gate := NewGate(stub, zap.NewNop(), WithLimiter(NewAttemptLimiter(cache, 2, 0)))
	ctx := context.Background()

	for _, tok := range []string{"a", "b"} {
		res, err := gate.Check(ctx, tok, "192.0.2.10")
		require.NoError(t, err)
		assert.True(t, res.Verified())
	}

	_, err := gate.Check(ctx, "c", "192.0.2.10")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2, stub.callCount())
}

func TestGateRejectsReplayedToken(t *testing.T) {
	_, cache := newTestCache(t)
	stub := &stubVerifier{provider: Hcaptcha("s", ""), result: Result{Outcome: VerifiedSuccess}}
	gate := NewGate(stub, zap.NewNop(), WithLimiter(NewAttemptLimiter(cache, 0, time.Minute)))
	ctx := context.Background()

	first, err := gate.Check(ctx, "tok", "192.0.2.10")
	require.NoError(t, err)
	assert.True(t, first.Verified())

	second, err := gate.Check(ctx, "tok", "192.0.2.11")
	require.NoError(t, err)
	assert.Equal(t, VerifiedFailure, second.Outcome)
	assert.ErrorIs(t, second.Err, ErrTokenReplayed)
	assert.Equal(t, []string{"timeout-or-duplicate"}, second.ErrorCodes())
	assert.Equal(t, 1, stub.callCount())
}

func TestGateFailsOpenWhenCacheDown(t *testing.T) {
	mr, cache := newTestCache(t)
	stub := &stubVerifier{provider: Hcaptcha("s", ""), result: Result{Outcome: VerifiedSuccess}}
	core, logs := observer.New(zap.WarnLevel)
	gate := NewGate(stub, zap.New(core), WithLimiter(NewAttemptLimiter(cache, 1, time.Minute)))
	mr.Close()

	res, err := gate.Check(context.Background(), "tok", "192.0.2.10")
	require.NoError(t, err)
	assert.True(t, res.Verified())
	assert.Equal(t, 1, logs.FilterMessage("attempt limiter unavailable, continuing").Len())
	assert.Equal(t, 1, logs.FilterMessage("replay guard unavailable, continuing").Len())
}

func TestGateLogsVerifierOutage(t *testing.T) {
	stub := &stubVerifier{provider: Hcaptcha("s", ""), result: transportFailure(context.DeadlineExceeded)}
	core, logs := observer.New(zap.WarnLevel)
	gate := NewGate(stub, zap.New(core))

	res, err := gate.Check(context.Background(), "tok", "")
	require.NoError(t, err)
	assert.Equal(t, TransportError, res.Outcome)
	assert.Equal(t, 1, logs.FilterMessage("verifier call failed").Len())
}

// sequenceVerifier returns its results in order and repeats the last one.
type sequenceVerifier struct {
	stubVerifier
	results []Result
}

func (s *sequenceVerifier) Verify(ctx context.Context, token, remoteIP string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return res
}

func TestGateReleasesClaimWhenVerifierDown(t *testing.T) {
	for _, down := range []Result{
		transportFailure(context.DeadlineExceeded),
		{Outcome: MalformedResponse, Err: ErrMalformedResponse},
	} {
		t.Run(down.Outcome.String(), func(t *testing.T) {
			mr, cache := newTestCache(t)
			verifier := &sequenceVerifier{
				stubVerifier: stubVerifier{provider: Recaptcha("s", "")},
				results:      []Result{down, {Outcome: VerifiedSuccess}},
			}
			gate := NewGate(verifier, zap.NewNop(), WithLimiter(NewAttemptLimiter(cache, 0, time.Minute)))
			ctx := context.Background()

			first, err := gate.Check(ctx, "tok", "192.0.2.10")
			require.NoError(t, err)
			assert.Equal(t, down.Outcome, first.Outcome)
			assert.False(t, mr.Exists(tokenKey("recaptcha", "tok")))

			second, err := gate.Check(ctx, "tok", "192.0.2.10")
			require.NoError(t, err)
			assert.True(t, second.Verified())
			assert.Equal(t, 2, verifier.callCount())

			third, err := gate.Check(ctx, "tok", "192.0.2.10")
			require.NoError(t, err)
			assert.ErrorIs(t, third.Err, ErrTokenReplayed)
		})
	}
}

func TestGateKeepsClaimAfterVerdict(t *testing.T) {
	mr, cache := newTestCache(t)
	stub := &stubVerifier{provider: Hcaptcha("s", ""), result: Result{Outcome: VerifiedFailure}}
	gate := NewGate(stub, zap.NewNop(), WithLimiter(NewAttemptLimiter(cache, 0, time.Minute)))

	_, err := gate.Check(context.Background(), "tok", "192.0.2.10")
	require.NoError(t, err)
	assert.True(t, mr.Exists(tokenKey("hcaptcha", "tok")))
}
