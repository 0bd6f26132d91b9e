package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 键值对风格的日志接口
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	// With 返回携带固定字段的子日志器
	With(kv ...any) Logger
}

// Options 日志初始化参数
type Options struct {
	Level   string
	Writer  []string
	File    string
	Console io.Writer
}

const redacted = "[REDACTED]"

// sensitiveKeys 输出前需要脱敏的字段名
var sensitiveKeys = map[string]bool{
	"secret":        true,
	"password":      true,
	"token":         true,
	"authorization": true,
	"cookie":        true,
	"api_key":       true,
}

type zlogger struct {
	zl zerolog.Logger
}

// New 根据配置创建 zerolog 日志器，返回的 io.Closer 用于关闭文件输出
func New(opts Options) (Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	for _, w := range opts.Writer {
		switch strings.TrimSpace(strings.ToLower(w)) {
		case "console":
			out := opts.Console
			if out == nil {
				out = os.Stdout
			}
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000"})
		case "file":
			if opts.File == "" {
				return nil, nil, fmt.Errorf("log file path is empty")
			}
			if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
				return nil, nil, fmt.Errorf("create log dir: %w", err)
			}
			lj := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			}
			writers = append(writers, lj)
			closer = lj
		case "":
		default:
			return nil, nil, fmt.Errorf("unknown log writer %q", w)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return &zlogger{zl: zl}, closer, nil
}

// NewWithWriter 直接输出 JSON 到 w，主要用于测试
func NewWithWriter(w io.Writer, level zerolog.Level) Logger {
	return &zlogger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

func (l *zlogger) Debug(msg string, kv ...any) { l.emit(l.zl.Debug(), msg, kv) }
func (l *zlogger) Info(msg string, kv ...any)  { l.emit(l.zl.Info(), msg, kv) }
func (l *zlogger) Warn(msg string, kv ...any)  { l.emit(l.zl.Warn(), msg, kv) }
func (l *zlogger) Error(msg string, kv ...any) { l.emit(l.zl.Error(), msg, kv) }

func (l *zlogger) With(kv ...any) Logger {
	return &zlogger{zl: l.zl.With().Fields(sanitize(kv)).Logger()}
}

func (l *zlogger) emit(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	if len(kv) > 0 {
		ev = ev.Fields(sanitize(kv))
	}
	ev.Msg(msg)
}

// sanitize 规整键值对并对敏感字段脱敏，奇数个参数时最后一个值记为 !BADKEY
func sanitize(kv []any) []any {
	out := make([]any, 0, len(kv)+1)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 >= len(kv) {
			out = append(out, "!BADKEY", kv[i])
			break
		}
		val := kv[i+1]
		if sensitiveKeys[strings.ToLower(key)] {
			val = redacted
		}
		out = append(out, key, val)
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
