package traffic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Header 大小写不敏感的头部集合
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Request 出站请求
type Request struct {
	URL     string
	Method  string
	Headers Header
	Body    []byte
}

// Response 入站响应
type Response struct {
	StatusCode int
	Headers    Header
	Body       []byte
}

// NewJSONRequest 构造 JSON POST 请求
func NewJSONRequest(url string, body []byte) *Request {
	req := &Request{
		URL:     url,
		Method:  http.MethodPost,
		Headers: make(Header),
		Body:    body,
	}
	req.Headers.Set("Content-Type", "application/json")
	return req
}

// Build 转换为 net/http 请求
func (r *Request) Build(ctx context.Context) (*http.Request, error) {
	hr, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range r.Headers {
		hr.Header.Set(k, v)
	}
	return hr, nil
}

// ReadResponse 读取响应，超过 limit 字节时报错
func ReadResponse(resp *http.Response, limit int64) (*Response, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	out := &Response{
		StatusCode: resp.StatusCode,
		Headers:    make(Header, len(resp.Header)),
		Body:       body,
	}
	for k := range resp.Header {
		out.Headers.Set(k, resp.Header.Get(k))
	}
	return out, nil
}
