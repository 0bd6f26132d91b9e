// Package browser defines the page-loading contract shared by the browser
// drivers. A Driver opens one Session per traversal; a Session opens one
// Page per URL.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Driver 浏览器驱动，进程内共享
type Driver interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Session 一次遍历独占的浏览会话
type Session interface {
	// Load 在新标签页中打开 url，等待网络空闲或超时
	Load(ctx context.Context, url string, timeout time.Duration) (*Page, error)
	Close() error
}

// Page 单个已渲染页面，由一次循环迭代独占
type Page struct {
	url   string
	html  string
	close func() error

	docOnce sync.Once
	doc     *goquery.Document
	docErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewPage 创建页面，closeFn 可为 nil
func NewPage(url, html string, closeFn func() error) *Page {
	return &Page{url: url, html: html, close: closeFn}
}

// URL 页面最终地址（跟随重定向后）
func (p *Page) URL() string { return p.url }

// HTML 渲染后的完整 HTML
func (p *Page) HTML() string { return p.html }

// Document 返回 DOM 查询句柄，首次调用时解析
func (p *Page) Document() (*goquery.Document, error) {
	p.docOnce.Do(func() {
		p.doc, p.docErr = goquery.NewDocumentFromReader(strings.NewReader(p.html))
		if p.docErr != nil {
			p.docErr = fmt.Errorf("parse document: %w", p.docErr)
		}
	})
	return p.doc, p.docErr
}

// Close 释放页面，可重复调用
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		if p.close != nil {
			p.closeErr = p.close()
		}
	})
	return p.closeErr
}

// ErrorKind 页面加载失败类型
type ErrorKind string

const (
	LoadTimeout     ErrorKind = "LoadTimeout"
	NavigationError ErrorKind = "NavigationError"
)

var (
	ErrLoadTimeout = errors.New("page load timed out")
	ErrNavigation  = errors.New("navigation failed")
)

// LoadError 页面加载错误
type LoadError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrLoadTimeout) 等按类型匹配
func (e *LoadError) Is(target error) bool {
	switch target {
	case ErrLoadTimeout:
		return e.Kind == LoadTimeout
	case ErrNavigation:
		return e.Kind == NavigationError
	}
	return false
}

// NewLoadError 根据底层错误归类，超时类错误记为 LoadTimeout
func NewLoadError(url string, err error) *LoadError {
	kind := NavigationError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrLoadTimeout) {
		kind = LoadTimeout
	}
	return &LoadError{Kind: kind, URL: url, Err: err}
}
