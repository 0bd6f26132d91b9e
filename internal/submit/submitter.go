// Package submit posts extracted answers to quiz endpoints.
package submit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"quizrunner/internal/logger"
	"quizrunner/pkg/model"
	"quizrunner/pkg/traffic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxResponseBytes 响应体上限
const maxResponseBytes = 1 << 20

// ErrInvalidResponse 响应体不是合法 JSON
var ErrInvalidResponse = errors.New("invalid submission response")

// Submitter 答案提交器，可被多个遍历共享
type Submitter struct {
	client *http.Client
	log    logger.Logger
}

// New 创建提交器，timeout 为单次提交的总超时
func New(timeout time.Duration, l logger.Logger) *Submitter {
	return NewWithClient(&http.Client{Timeout: timeout}, l)
}

// NewWithClient 使用指定的 http.Client
func NewWithClient(client *http.Client, l logger.Logger) *Submitter {
	if l == nil {
		l = logger.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Submitter{client: client, log: l}
}

// Submit 以 JSON POST 提交答案。只要响应是合法 JSON 就视为成功，状态码仅记录
func (s *Submitter) Submit(ctx context.Context, url string, sub model.Submission) (*model.SubmissionResponse, error) {
	body, err := EncodeSubmission(sub)
	if err != nil {
		return nil, err
	}
	req, err := traffic.NewJSONRequest(url, body).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	tr, err := traffic.ReadResponse(resp, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	out, err := DecodeResponse(tr)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}

	kv := []any{"submitUrl", url, "status", out.StatusCode, "next", out.NextURL}
	if out.Correct != nil {
		kv = append(kv, "correct", *out.Correct)
	}
	if out.Reason != "" {
		kv = append(kv, "reason", out.Reason)
	}
	s.log.Info("答案已提交", kv...)
	return out, nil
}

// EncodeSubmission 按 email, secret, url, answer 顺序生成请求体，answer 原样保留
func EncodeSubmission(sub model.Submission) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	for _, f := range []struct{ key, val string }{
		{"email", sub.Email},
		{"secret", sub.Secret},
		{"url", sub.URL},
	} {
		if body, err = sjson.SetBytes(body, f.key, f.val); err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.key, err)
		}
	}
	answer := []byte(sub.Answer)
	if len(answer) == 0 {
		answer = []byte("null")
	}
	if !gjson.ValidBytes(answer) {
		return nil, fmt.Errorf("encode answer: invalid json %q", answer)
	}
	if body, err = sjson.SetRawBytes(body, "answer", answer); err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}
	return body, nil
}

// DecodeResponse 解析响应，url 为非空字符串时作为下一跳
func DecodeResponse(tr *traffic.Response) (*model.SubmissionResponse, error) {
	if !gjson.ValidBytes(tr.Body) {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidResponse, tr.StatusCode)
	}
	res := gjson.ParseBytes(tr.Body)
	out := &model.SubmissionResponse{StatusCode: tr.StatusCode, Raw: tr.Body}
	if u := res.Get("url"); u.Type == gjson.String {
		out.NextURL = u.Str
	}
	if c := res.Get("correct"); c.IsBool() {
		b := c.Bool()
		out.Correct = &b
	}
	if r := res.Get("reason"); r.Type == gjson.String {
		out.Reason = r.Str
	}
	return out, nil
}
