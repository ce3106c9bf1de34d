package api

import (
	"net/http"
	"time"

	"CaptchaGate/src/resources"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDKey = "request_id"

// Routes maps each provider to the path its form posts to.
var Routes = map[string]string{
	"recaptcha": "/procesar",
	"hcaptcha":  "/validate",
}

type RouterConfig struct {
	Gates          []*resources.Gate
	Verify         VerifyOptions
	Hub            *Hub
	EventsKey      string
	AllowedOrigins []string
	// TrustedProxies lists the proxies whose X-Forwarded-For is honoured.
	// Empty means the client IP is always the socket peer.
	TrustedProxies []string
	// SiteKeys holds the public widget key per provider for the demo page.
	SiteKeys map[string]string
	Logger   *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ginEngine := gin.New()
	ginEngine.HandleMethodNotAllowed = true
	if err := ginEngine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Error("invalid trusted proxies, using the socket peer address", zap.Error(err))
		_ = ginEngine.SetTrustedProxies(nil)
	}
	ginEngine.Use(requestID(), accessLog(logger), gin.Recovery(), corsMiddleware(cfg.AllowedOrigins))
	ginEngine.NoMethod(InvalidAccess)

	ginEngine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	enabled := make([]string, 0, len(cfg.Gates))
	for _, gate := range cfg.Gates {
		name := gate.Provider().Name
		path, ok := Routes[name]
		if !ok {
			path = "/verify/" + name
		}
		ginEngine.POST(path, VerifyChallenge(gate, cfg.Verify))
		enabled = append(enabled, name)
	}

	if forms := demoForms(cfg.SiteKeys, enabled); len(forms) > 0 {
		ginEngine.SetHTMLTemplate(homeTemplate)
		ginEngine.GET("/", HomeMenu(forms))
	}

	if cfg.Hub != nil && cfg.EventsKey != "" {
		ginEngine.GET("/ws/events", LiveEvents(cfg.Hub, cfg.EventsKey))
	}

	return ginEngine
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodPost},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
