package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quizrunner/internal/browser"

	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
)

// ToLoadError 将 CDP 调用错误转换为中立的加载错误，timedOut 表示加载上下文已超时
func ToLoadError(url string, err error, timedOut bool) *browser.LoadError {
	var le *browser.LoadError
	if errors.As(err, &le) {
		return le
	}
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return &browser.LoadError{Kind: browser.LoadTimeout, URL: url, Err: err}
	}
	return &browser.LoadError{Kind: browser.NavigationError, URL: url, Err: err}
}

// NavigateError 检查导航应答中的 errorText（如 net::ERR_NAME_NOT_RESOLVED）
func NavigateError(url string, reply *page.NavigateReply) error {
	if reply == nil {
		return &browser.LoadError{Kind: browser.NavigationError, URL: url, Err: errors.New("empty navigate reply")}
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return &browser.LoadError{Kind: browser.NavigationError, URL: url, Err: errors.New(*reply.ErrorText)}
	}
	return nil
}

// EvalString 将 Runtime.evaluate 的结果解码为字符串
func EvalString(reply *runtime.EvaluateReply) (string, error) {
	if reply == nil {
		return "", errors.New("empty evaluate reply")
	}
	if reply.ExceptionDetails != nil {
		return "", fmt.Errorf("evaluate: %s", reply.ExceptionDetails.Text)
	}
	var s string
	if err := json.Unmarshal(reply.Result.Value, &s); err != nil {
		return "", fmt.Errorf("decode evaluate result: %w", err)
	}
	return s, nil
}
