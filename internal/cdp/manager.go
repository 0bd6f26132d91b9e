package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	adapter "quizrunner/internal/adapter/cdp"
	"quizrunner/internal/browser"
	"quizrunner/internal/logger"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"
	"github.com/mafredri/cdp/session"
)

// closeTimeout 释放标签页与浏览器上下文的超时
const closeTimeout = 5 * time.Second

// Driver 通过 DevTools 协议连接外部 Chrome
type Driver struct {
	devtoolsURL string
	log         logger.Logger
}

// New 创建 CDP 驱动，devtoolsURL 形如 http://127.0.0.1:9222
func New(devtoolsURL string, l logger.Logger) *Driver {
	if l == nil {
		l = logger.NewNop()
	}
	return &Driver{devtoolsURL: devtoolsURL, log: l}
}

// NewSession 连接浏览器并创建独立的浏览器上下文
func (d *Driver) NewSession(ctx context.Context) (browser.Session, error) {
	dt := devtool.New(d.devtoolsURL)
	ver, err := dt.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("query devtools version: %w", err)
	}
	conn, err := rpcc.DialContext(ctx, ver.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial devtools: %w", err)
	}
	client := cdp.NewClient(conn)

	bctx, err := client.Target.CreateBrowserContext(ctx, target.NewCreateBrowserContextArgs())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	sm, err := session.NewManager(client)
	if err != nil {
		_ = client.Target.DisposeBrowserContext(ctx, target.NewDisposeBrowserContextArgs(bctx.BrowserContextID))
		_ = conn.Close()
		return nil, fmt.Errorf("create session manager: %w", err)
	}

	d.log.Debug("浏览会话已建立", "browser", ver.Browser, "context", bctx.BrowserContextID)
	return &Session{conn: conn, client: client, sessions: sm, bctx: bctx, log: d.log}, nil
}

// Close 驱动本身不持有连接
func (d *Driver) Close() error { return nil }

// Session 一个浏览器上下文及其下的标签页
type Session struct {
	conn     *rpcc.Conn
	client   *cdp.Client
	sessions *session.Manager
	bctx     *target.CreateBrowserContextReply
	log      logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// Load 新建标签页并导航到 url，等待 networkIdle 后读取 HTML
func (s *Session) Load(ctx context.Context, url string, timeout time.Duration) (*browser.Page, error) {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fail := func(err error) error {
		return adapter.ToLoadError(url, err, errors.Is(lctx.Err(), context.DeadlineExceeded))
	}

	args := target.NewCreateTargetArgs("about:blank").SetBrowserContextID(s.bctx.BrowserContextID)
	t, err := s.client.Target.CreateTarget(lctx, args)
	if err != nil {
		return nil, fail(fmt.Errorf("create target: %w", err))
	}
	pconn, err := s.sessions.Dial(lctx, t.TargetID)
	if err != nil {
		return nil, fail(fmt.Errorf("attach target: %w", err))
	}
	pc := cdp.NewClient(pconn)
	closeTab := func() error {
		cctx, ccancel := context.WithTimeout(context.Background(), closeTimeout)
		defer ccancel()
		err := pc.Page.Close(cctx)
		if cerr := pconn.Close(); err == nil {
			err = cerr
		}
		return err
	}

	html, finalURL, err := s.navigate(lctx, pc, url)
	if err != nil {
		if cerr := closeTab(); cerr != nil {
			s.log.Warn("关闭标签页失败", "url", url, "error", cerr)
		}
		return nil, fail(err)
	}
	return browser.NewPage(finalURL, html, closeTab), nil
}

func (s *Session) navigate(ctx context.Context, pc *cdp.Client, url string) (string, string, error) {
	if err := pc.Page.Enable(ctx); err != nil {
		return "", "", fmt.Errorf("enable page: %w", err)
	}
	if err := pc.Page.SetLifecycleEventsEnabled(ctx, page.NewSetLifecycleEventsEnabledArgs(true)); err != nil {
		return "", "", fmt.Errorf("enable lifecycle events: %w", err)
	}
	events, err := pc.Page.LifecycleEvent(ctx)
	if err != nil {
		return "", "", fmt.Errorf("subscribe lifecycle: %w", err)
	}
	defer events.Close()

	nav, err := pc.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return "", "", fmt.Errorf("navigate: %w", err)
	}
	if err := adapter.NavigateError(url, nav); err != nil {
		return "", "", err
	}
	if err := waitNetworkIdle(ctx, events, nav.FrameID, nav.LoaderID); err != nil {
		return "", "", fmt.Errorf("wait network idle: %w", err)
	}

	doc, err := pc.DOM.GetDocument(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("get document: %w", err)
	}
	outer, err := pc.DOM.GetOuterHTML(ctx, &dom.GetOuterHTMLArgs{NodeID: &doc.Root.NodeID})
	if err != nil {
		return "", "", fmt.Errorf("get outer html: %w", err)
	}
	loc, err := pc.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs("document.location.href").SetReturnByValue(true))
	if err != nil {
		return "", "", fmt.Errorf("read location: %w", err)
	}
	finalURL, err := adapter.EvalString(loc)
	if err != nil || finalURL == "" {
		finalURL = url
	}
	return outer.OuterHTML, finalURL, nil
}

// Close 销毁浏览器上下文（连带其中的标签页）并断开连接，可重复调用
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		var errs []error
		if err := s.client.Target.DisposeBrowserContext(ctx, target.NewDisposeBrowserContextArgs(s.bctx.BrowserContextID)); err != nil {
			errs = append(errs, fmt.Errorf("dispose browser context: %w", err))
		}
		if err := s.sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session manager: %w", err))
		}
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
		s.closeErr = errors.Join(errs...)
		s.log.Debug("浏览会话已关闭", "context", s.bctx.BrowserContextID)
	})
	return s.closeErr
}
