package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CaptchaGate/src"
	"CaptchaGate/src/api"
	"CaptchaGate/src/resources"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:           "captchagate",
	Short:         "Server-side reCAPTCHA and hCaptcha token verification",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := src.Config.SetupEnv(); err != nil {
			return err
		}
		var err error
		logger, err = src.NewLogger(src.Config.ApplicationMode)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification HTTP server",
	RunE:  serve,
}

var (
	verifyProvider string
	verifyToken    string
	verifyRemoteIP string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a single challenge token against its provider",
	RunE:  verifyOnce,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyProvider, "provider", "recaptcha", "provider name (recaptcha or hcaptcha)")
	verifyCmd.Flags().StringVar(&verifyToken, "token", "", "challenge token to check")
	verifyCmd.Flags().StringVar(&verifyRemoteIP, "remote-ip", "", "client IP forwarded to the provider")
	_ = verifyCmd.MarkFlagRequired("token")

	rootCmd.AddCommand(serveCmd, verifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVerifiers() ([]resources.ChallengeVerifier, error) {
	cfg := src.Config
	var verifiers []resources.ChallengeVerifier

	if cfg.RecaptchaSecret != "" {
		if cfg.RecaptchaClient == src.ClientSDK {
			v, err := resources.NewSDKRecaptchaVerifier(cfg.RecaptchaSecret)
			if err != nil {
				return nil, err
			}
			verifiers = append(verifiers, v)
		} else {
			v, err := resources.NewVerifier(resources.Recaptcha(cfg.RecaptchaSecret, cfg.RecaptchaVerifyUrl), cfg.VerifyTimeout())
			if err != nil {
				return nil, err
			}
			verifiers = append(verifiers, v)
		}
	}
	if cfg.HcaptchaSecret != "" {
		v, err := resources.NewVerifier(resources.Hcaptcha(cfg.HcaptchaSecret, cfg.HcaptchaVerifyUrl), cfg.VerifyTimeout())
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, v)
	}
	return verifiers, nil
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var limiter *resources.AttemptLimiter
	if src.Config.RedisUrl != "" {
		cache, err := resources.SetupRedis(ctx, src.Config.RedisUrl)
		if err != nil {
			return err
		}
		defer cache.Close()
		limiter = resources.NewAttemptLimiter(cache, src.Config.MaxAttemptsPerMinute, src.Config.ReplayWindow())
	} else {
		logger.Warn("REDIS_URL not set, attempt limiting and replay guard disabled")
	}

	verifiers, err := buildVerifiers()
	if err != nil {
		return err
	}

	hub := api.NewHub(logger)
	go hub.Run()
	defer hub.Shutdown()

	gates := make([]*resources.Gate, 0, len(verifiers))
	for _, v := range verifiers {
		gates = append(gates, resources.NewGate(v, logger, resources.WithLimiter(limiter), resources.WithPublisher(hub.Publish)))
		logger.Info("provider enabled", zap.String("provider", v.Provider().Name), zap.String("endpoint", v.Provider().Endpoint))
	}

	gin.SetMode(src.Config.ApplicationMode)
	ginEngine := api.NewRouter(api.RouterConfig{
		Gates: gates,
		Verify: api.VerifyOptions{
			Timeout: src.Config.VerifyTimeout(),
			EchoRaw: src.Config.EchoVerifierResponse,
		},
		Hub:            hub,
		EventsKey:      src.Config.EventsKey,
		AllowedOrigins: src.Config.AllowedOrigins,
		TrustedProxies: src.Config.TrustedProxies,
		SiteKeys: map[string]string{
			"recaptcha": src.Config.RecaptchaSiteKey,
			"hcaptcha":  src.Config.HcaptchaSiteKey,
		},
		Logger: logger,
	})

	s := &http.Server{
		Addr:           ":" + src.Config.Port,
		Handler:        ginEngine,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   src.Config.VerifyTimeout() + 10*time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", s.Addr))
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func verifyOnce(cmd *cobra.Command, args []string) error {
	verifiers, err := buildVerifiers()
	if err != nil {
		return err
	}

	var verifier resources.ChallengeVerifier
	for _, v := range verifiers {
		if v.Provider().Name == verifyProvider {
			verifier = v
		}
	}
	if verifier == nil {
		return fmt.Errorf("provider %q is not configured", verifyProvider)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), src.Config.VerifyTimeout())
	defer cancel()

	res, _ := resources.NewGate(verifier, logger).Check(ctx, verifyToken, verifyRemoteIP)
	fmt.Fprintln(cmd.OutOrStdout(), res.Outcome)
	if codes := res.ErrorCodes(); len(codes) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "error-codes:", codes)
	}
	if !res.Verified() {
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("challenge not verified: %s", res.Outcome)
	}
	return nil
}
