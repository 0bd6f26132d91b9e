// Package handler is the HTTP gateway: it validates quiz requests,
// acknowledges them and hands them to the background launcher.
package handler

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"quizrunner/internal/logger"
	"quizrunner/pkg/model"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 2 << 20

// Launcher 后台遍历启动器，api.Service 满足该接口
type Launcher interface {
	StartTraversal(params model.SessionParams) (model.TraversalID, error)
	Active() int
}

// Config 配置选项
type Config struct {
	Secret   string
	Launcher Launcher
	// Limiter 为 nil 时不限流
	Limiter  *rate.Limiter
	Gatherer prometheus.Gatherer
	Logger   logger.Logger
}

// Handler 请求处理器
type Handler struct {
	secret   []byte
	launcher Launcher
	limiter  *rate.Limiter
	gatherer prometheus.Gatherer
	log      logger.Logger
}

// New 创建请求处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	g := cfg.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Handler{
		secret:   []byte(cfg.Secret),
		launcher: cfg.Launcher,
		limiter:  cfg.Limiter,
		gatherer: g,
		log:      l,
	}
}

// Router 注册全部路由
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	submit := []gin.HandlerFunc{h.Accept}
	if h.limiter != nil {
		submit = append([]gin.HandlerFunc{RateLimit(h.limiter)}, submit...)
	}
	r.POST("/", submit...)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	return r
}

// Accept 处理 POST /：校验后立即应答，再启动后台遍历
func (h *Handler) Accept(c *gin.Context) {
	if c.ContentType() != "application/json" {
		abort(c, http.StatusBadRequest, "Invalid JSON")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		abort(c, http.StatusBadRequest, "Invalid JSON")
		return
	}

	params, status, msg := parseParams(body)
	if status != http.StatusOK {
		abort(c, status, msg)
		return
	}
	if subtle.ConstantTimeCompare([]byte(params.Secret), h.secret) != 1 {
		h.log.Warn("密钥校验失败", "email", params.Email, "remote", c.ClientIP())
		abort(c, http.StatusForbidden, "Invalid secret")
		return
	}

	// 先把应答写出去，遍历不影响调用方延迟
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "message": "Processing quiz..."})
	c.Writer.Flush()

	id, err := h.launcher.StartTraversal(params)
	if err != nil {
		h.log.Error("启动遍历失败", "url", params.StartURL, "error", err)
		return
	}
	h.log.Info("请求已受理", "traversal", string(id), "email", params.Email, "url", params.StartURL)
}

// parseParams 校验请求体，返回 200 表示通过
func parseParams(body []byte) (model.SessionParams, int, string) {
	if !gjson.ValidBytes(body) {
		return model.SessionParams{}, http.StatusBadRequest, "Invalid JSON"
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return model.SessionParams{}, http.StatusBadRequest, "Invalid JSON"
	}
	var vals [3]string
	for i, key := range []string{"email", "secret", "url"} {
		f := doc.Get(key)
		if f.Type != gjson.String || f.Str == "" {
			return model.SessionParams{}, http.StatusBadRequest, "Missing required fields"
		}
		vals[i] = f.Str
	}
	return model.SessionParams{Email: vals[0], Secret: vals[1], StartURL: vals[2]}, http.StatusOK, ""
}

// Health 处理 GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active": h.launcher.Active()})
}

// RateLimit 令牌桶限流，超限返回 429
func RateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			abort(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("HTTP 请求",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
