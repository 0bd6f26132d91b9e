// Package playwright is a browser.Driver backed by playwright-go. Each
// session launches its own headless Chromium; each page is a new tab.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"quizrunner/internal/browser"
	"quizrunner/internal/logger"

	pw "github.com/playwright-community/playwright-go"
)

// Driver manages the Playwright node process shared by all sessions.
type Driver struct {
	mu       sync.Mutex
	pw       *pw.Playwright
	headless bool
	log      logger.Logger
}

// New creates a driver. The Playwright process is started lazily.
func New(headless bool, l logger.Logger) *Driver {
	if l == nil {
		l = logger.NewNop()
	}
	return &Driver{headless: headless, log: l}
}

// start installs Chromium if needed and runs the Playwright server once.
func (d *Driver) start() (*pw.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw != nil {
		return d.pw, nil
	}

	opts := &pw.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := pw.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	p, err := pw.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	d.pw = p
	d.log.Info("Playwright 已启动")
	return p, nil
}

// NewSession launches a fresh Chromium instance.
func (d *Driver) NewSession(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.start()
	if err != nil {
		return nil, err
	}
	b, err := p.Chromium.Launch(pw.BrowserTypeLaunchOptions{Headless: pw.Bool(d.headless)})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return &Session{browser: b, log: d.log}, nil
}

// Close stops the Playwright process.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

// Session wraps one launched browser.
type Session struct {
	browser pw.Browser
	log     logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// Load opens a new page and navigates with waitUntil=networkidle.
func (s *Session) Load(ctx context.Context, url string, timeout time.Duration) (*browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, toLoadError(url, err)
	}
	page, err := s.browser.NewPage()
	if err != nil {
		return nil, toLoadError(url, fmt.Errorf("new page: %w", err))
	}
	closePage := func() error { return page.Close() }

	waitUntil := pw.WaitUntilState("networkidle")
	ms := float64(timeout.Milliseconds())
	if _, err := page.Goto(url, pw.PageGotoOptions{WaitUntil: &waitUntil, Timeout: &ms}); err != nil {
		s.closeQuietly(closePage, url)
		return nil, toLoadError(url, fmt.Errorf("navigation failed: %w", err))
	}
	html, err := page.Content()
	if err != nil {
		s.closeQuietly(closePage, url)
		return nil, toLoadError(url, fmt.Errorf("read content: %w", err))
	}
	return browser.NewPage(page.URL(), html, closePage), nil
}

func (s *Session) closeQuietly(closeFn func() error, url string) {
	if err := closeFn(); err != nil {
		s.log.Warn("关闭页面失败", "url", url, "error", err)
	}
}

// Close closes the browser and every page in it.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.browser.Close()
	})
	return s.closeErr
}

func toLoadError(url string, err error) *browser.LoadError {
	if errors.Is(err, pw.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &browser.LoadError{Kind: browser.LoadTimeout, URL: url, Err: err}
	}
	return &browser.LoadError{Kind: browser.NavigationError, URL: url, Err: err}
}
