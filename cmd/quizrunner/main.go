// Command quizrunner accepts quiz requests over HTTP and solves the quiz
// chain in a headless browser.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"quizrunner/internal/browser"
	"quizrunner/internal/cdp"
	"quizrunner/internal/config"
	"quizrunner/internal/extractor"
	"quizrunner/internal/handler"
	"quizrunner/internal/logger"
	"quizrunner/internal/metrics"
	"quizrunner/internal/playwright"
	"quizrunner/internal/submit"
	"quizrunner/internal/traversal"
	"quizrunner/pkg/api"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

const readHeaderTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitFailure
	}

	log, closer, err := logger.New(logger.Options{Level: cfg.Log.Level, Writer: cfg.Log.Writer, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		return exitFailure
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	driver := newDriver(cfg, log)
	defer func() {
		if err := driver.Close(); err != nil {
			log.Warn("关闭浏览器驱动失败", "error", err)
		}
	}()

	chain := extractor.Default(log).Observe(func(strategy string, o extractor.Outcome) {
		m.Extraction(strategy, o.String())
	})
	engine := traversal.New(driver, chain, submit.New(cfg.Traversal.SubmitTimeout, log), traversal.Options{
		MaxDuration: cfg.Traversal.MaxDuration,
		LoadTimeout: cfg.Traversal.LoadTimeout,
	}, m, log)
	svc := api.NewService(engine, log)

	var limiter *rate.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	}
	gin.SetMode(gin.ReleaseMode)
	h := handler.New(handler.Config{
		Secret:   cfg.Server.Secret,
		Launcher: svc,
		Limiter:  limiter,
		Gatherer: reg,
		Logger:   log,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Server.Port)),
		Handler:           h.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务已启动", "addr", srv.Addr, "driver", cfg.Browser.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP 服务异常退出", "error", err)
			return exitFailure
		}
	case <-ctx.Done():
		log.Info("收到退出信号，开始关闭")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	code := exitSuccess
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("关闭 HTTP 服务失败", "error", err)
		code = exitFailure
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error("等待遍历退出超时", "error", err)
		code = exitFailure
	}
	log.Info("服务已停止")
	return code
}

func newDriver(cfg *config.Config, log logger.Logger) browser.Driver {
	if cfg.Browser.Driver == config.DriverPlaywright {
		return playwright.New(cfg.Browser.Headless, log)
	}
	return cdp.New(cfg.Browser.DevToolsURL, log)
}
