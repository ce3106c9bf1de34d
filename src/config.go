package src

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ClientHTTP = "http"
	ClientSDK  = "sdk"
)

var Config envData

type envData struct {
	Port                 string   `env:"PORT" envDefault:"8000"`
	ApplicationMode      string   `env:"APPLICATION_MODE" envDefault:"release"`
	RedisUrl             string   `env:"REDIS_URL"`
	RecaptchaSecret      string   `env:"RECAPTCHA_SECRET"`
	HcaptchaSecret       string   `env:"HCAPTCHA_SECRET"`
	RecaptchaSiteKey     string   `env:"RECAPTCHA_SITE_KEY"`
	HcaptchaSiteKey      string   `env:"HCAPTCHA_SITE_KEY"`
	RecaptchaVerifyUrl   string   `env:"RECAPTCHA_VERIFY_URL"`
	HcaptchaVerifyUrl    string   `env:"HCAPTCHA_VERIFY_URL"`
	RecaptchaClient      string   `env:"RECAPTCHA_CLIENT" envDefault:"http"`
	VerifyTimeoutSecond  int      `env:"VERIFY_TIMEOUT_SECOND" envDefault:"10"`
	MaxAttemptsPerMinute int      `env:"MAX_ATTEMPTS_PER_MINUTE" envDefault:"20"`
	ReplayWindowSecond   int      `env:"REPLAY_WINDOW_SECOND" envDefault:"120"`
	EchoVerifierResponse bool     `env:"ECHO_VERIFIER_RESPONSE"`
	AllowedOrigins       []string `env:"ALLOWED_ORIGINS"`
	TrustedProxies       []string `env:"TRUSTED_PROXIES"`
	EventsKey            string   `env:"EVENTS_KEY"`
}

// SetupEnv loads .env (when present) into the process environment and fills
// Config from it.
func (envData) SetupEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}

	cfg, err := LoadEnv(os.Getenv)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}

// LoadEnv builds the configuration from a lookup function so tests can feed
// values without touching the process environment.
func LoadEnv(getenv func(string) string) (envData, error) {
	cfg := envData{
		Port:               orDefault(getenv("PORT"), "8000"),
		ApplicationMode:    orDefault(getenv("APPLICATION_MODE"), "release"),
		RedisUrl:           strings.TrimSpace(getenv("REDIS_URL")),
		RecaptchaSecret:    strings.TrimSpace(getenv("RECAPTCHA_SECRET")),
		HcaptchaSecret:     strings.TrimSpace(getenv("HCAPTCHA_SECRET")),
		RecaptchaSiteKey:   strings.TrimSpace(getenv("RECAPTCHA_SITE_KEY")),
		HcaptchaSiteKey:    strings.TrimSpace(getenv("HCAPTCHA_SITE_KEY")),
		RecaptchaVerifyUrl: strings.TrimSpace(getenv("RECAPTCHA_VERIFY_URL")),
		HcaptchaVerifyUrl:  strings.TrimSpace(getenv("HCAPTCHA_VERIFY_URL")),
		RecaptchaClient:    strings.ToLower(orDefault(getenv("RECAPTCHA_CLIENT"), ClientHTTP)),
		AllowedOrigins:     splitList(getenv("ALLOWED_ORIGINS")),
		TrustedProxies:     splitList(getenv("TRUSTED_PROXIES")),
		EventsKey:          strings.TrimSpace(getenv("EVENTS_KEY")),
	}

	var err error
	if cfg.VerifyTimeoutSecond, err = intOr(getenv, "VERIFY_TIMEOUT_SECOND", 10); err != nil {
		return envData{}, err
	}
	if cfg.MaxAttemptsPerMinute, err = intOr(getenv, "MAX_ATTEMPTS_PER_MINUTE", 20); err != nil {
		return envData{}, err
	}
	if cfg.ReplayWindowSecond, err = intOr(getenv, "REPLAY_WINDOW_SECOND", 120); err != nil {
		return envData{}, err
	}
	if v := strings.TrimSpace(getenv("ECHO_VERIFIER_RESPONSE")); v != "" {
		if cfg.EchoVerifierResponse, err = strconv.ParseBool(v); err != nil {
			return envData{}, fmt.Errorf("invalid ECHO_VERIFIER_RESPONSE: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return envData{}, err
	}
	return cfg, nil
}

func (c envData) Validate() error {
	if c.RecaptchaSecret == "" && c.HcaptchaSecret == "" {
		return errors.New("no captcha provider configured: set RECAPTCHA_SECRET and/or HCAPTCHA_SECRET")
	}
	if c.RecaptchaClient != ClientHTTP && c.RecaptchaClient != ClientSDK {
		return fmt.Errorf("invalid RECAPTCHA_CLIENT %q", c.RecaptchaClient)
	}
	switch c.ApplicationMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid APPLICATION_MODE %q", c.ApplicationMode)
	}
	for _, origin := range c.AllowedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("invalid ALLOWED_ORIGINS entry %q", origin)
		}
	}
	for _, proxy := range c.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry %q", proxy)
		}
	}
	if c.VerifyTimeoutSecond <= 0 {
		return errors.New("VERIFY_TIMEOUT_SECOND must be positive")
	}
	if c.MaxAttemptsPerMinute < 0 {
		return errors.New("MAX_ATTEMPTS_PER_MINUTE must not be negative")
	}
	if c.ReplayWindowSecond < 0 {
		return errors.New("REPLAY_WINDOW_SECOND must not be negative")
	}
	return nil
}

func (c envData) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSecond) * time.Second
}

func (c envData) ReplayWindow() time.Duration {
	return time.Duration(c.ReplayWindowSecond) * time.Second
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

func intOr(getenv func(string) string, key string, def int) (int, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
