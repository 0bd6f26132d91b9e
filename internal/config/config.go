package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 浏览器驱动
const (
	DriverCDP        = "cdp"
	DriverPlaywright = "playwright"
)

// Config 进程级配置，启动时加载一次，之后只读
type Config struct {
	Version string `yaml:"version"`

	Server struct {
		Port            int           `yaml:"port"`
		Secret          string        `yaml:"secret"`
		RateLimit       float64       `yaml:"rateLimit"`
		RateBurst       int           `yaml:"rateBurst"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Browser struct {
		Driver      string `yaml:"driver"`
		DevToolsURL string `yaml:"devToolsURL"`
		Headless    bool   `yaml:"headless"`
	} `yaml:"browser"`

	Traversal struct {
		MaxDuration   time.Duration `yaml:"maxDuration"`
		LoadTimeout   time.Duration `yaml:"loadTimeout"`
		SubmitTimeout time.Duration `yaml:"submitTimeout"`
	} `yaml:"traversal"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Server.Port = 3000
	c.Server.RateBurst = 1
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Browser.Driver = DriverCDP
	c.Browser.DevToolsURL = "http://127.0.0.1:9222"
	c.Browser.Headless = true
	c.Traversal.MaxDuration = 3 * time.Minute
	c.Traversal.LoadTimeout = 60 * time.Second
	c.Traversal.SubmitTimeout = 30 * time.Second
	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "logs/quizrunner.log"
	return c
}

// Load 依次应用默认值、CONFIG_FILE 指定的 YAML、.env 与环境变量，然后校验
func Load() (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	c := NewConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv 用环境变量覆盖配置，lookup 便于测试注入
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	num("PORT", &c.Server.Port)
	str("SECRET", &c.Server.Secret)
	if v, ok := lookup("RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT: %w", err))
		} else {
			c.Server.RateLimit = f
		}
	}
	num("RATE_BURST", &c.Server.RateBurst)
	dur("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	str("BROWSER_DRIVER", &c.Browser.Driver)
	str("DEVTOOLS_URL", &c.Browser.DevToolsURL)
	if v, ok := lookup("HEADLESS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HEADLESS: %w", err))
		} else {
			c.Browser.Headless = b
		}
	}

	dur("MAX_TRAVERSAL_DURATION", &c.Traversal.MaxDuration)
	dur("PAGE_LOAD_TIMEOUT", &c.Traversal.LoadTimeout)
	dur("SUBMIT_TIMEOUT", &c.Traversal.SubmitTimeout)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	if v, ok := lookup("LOG_WRITERS"); ok && v != "" {
		c.Log.Writer = splitList(v)
	}

	return errors.Join(errs...)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Server.Secret == "" {
		return errors.New("server.secret: is required (set SECRET)")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdownTimeout: must be positive")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server.rateLimit: must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return errors.New("server.rateBurst: must be at least 1 when rate limiting")
	}
	switch c.Browser.Driver {
	case DriverCDP:
		if c.Browser.DevToolsURL == "" {
			return errors.New("browser.devToolsURL: is required for the cdp driver")
		}
	case DriverPlaywright:
	default:
		return fmt.Errorf("browser.driver: unknown driver %q", c.Browser.Driver)
	}
	if c.Traversal.MaxDuration <= 0 {
		return errors.New("traversal.maxDuration: must be positive")
	}
	if c.Traversal.LoadTimeout <= 0 {
		return errors.New("traversal.loadTimeout: must be positive")
	}
	if c.Traversal.SubmitTimeout <= 0 {
		return errors.New("traversal.submitTimeout: must be positive")
	}
	return nil
}

// parseDuration 支持 Go 时长写法，也接受纯数字（毫秒）
func parseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
