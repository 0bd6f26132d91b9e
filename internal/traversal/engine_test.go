package traversal

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"quizrunner/internal/browser"
	"quizrunner/internal/extractor"
	"quizrunner/internal/metrics"
	"quizrunner/pkg/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDriver struct{ mock.Mock }

func (m *mockDriver) NewSession(ctx context.Context) (browser.Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(browser.Session)
	return s, args.Error(1)
}

func (m *mockDriver) Close() error { return m.Called().Error(0) }

// mockSession 按 url 返回预置 HTML，并统计页面关闭次数
type mockSession struct {
	mock.Mock
	pages map[string]string

	mu          sync.Mutex
	pagesOpen   int
	pagesClosed int
}

func (m *mockSession) Load(_ context.Context, url string, _ time.Duration) (*browser.Page, error) {
	if err := m.Called(url).Error(0); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pagesOpen != m.pagesClosed {
		panic("page still open")
	}
	m.pagesOpen++
	return browser.NewPage(url, m.pages[url], func() error {
		m.mu.Lock()
		m.pagesClosed++
		m.mu.Unlock()
		return nil
	}), nil
}

func (m *mockSession) Close() error { return m.Called().Error(0) }

type mockSubmitter struct{ mock.Mock }

func (m *mockSubmitter) Submit(ctx context.Context, url string, sub model.Submission) (*model.SubmissionResponse, error) {
	args := m.Called(ctx, url, sub)
	r, _ := args.Get(0).(*model.SubmissionResponse)
	return r, args.Error(1)
}

// fakeClock 只在测试显式推进时前进
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var params = model.SessionParams{Email: "student@example.com", Secret: "s3cret", StartURL: "https://quiz.example/1"}

func tablePage(values ...string) string {
	html := `<table><thead><tr><th>Name</th><th>Value</th></tr></thead><tbody>`
	for _, v := range values {
		html += `<tr><td>x</td><td>` + v + `</td></tr>`
	}
	return html + `</tbody></table><form action="/submit"></form>`
}

func payloadPage(decoded string) string {
	return "<script>atob(`" + base64.StdEncoding.EncodeToString([]byte(decoded)) + "`)</script>"
}

func submissionFor(url, answer string) any {
	return mock.MatchedBy(func(s model.Submission) bool {
		return s.Email == params.Email && s.Secret == params.Secret && s.URL == url && string(s.Answer) == answer
	})
}

func newEngine(t *testing.T, sess *mockSession, sub *mockSubmitter, m *metrics.Metrics) (*Engine, *mockDriver) {
	t.Helper()
	drv := &mockDriver{}
	drv.On("NewSession", mock.Anything).Return(sess, nil).Once()
	e := New(drv, extractor.Default(nil), sub, Options{MaxDuration: 3 * time.Minute, LoadTimeout: time.Second}, m, nil)
	return e, drv
}

func TestRun_FollowsChain(t *testing.T) {
	sess := &mockSession{pages: map[string]string{
		"https://quiz.example/1": tablePage("$10", "abc", "$5.50"),
		"https://quiz.example/2": payloadPage(`{"answer": "done"} post to https://api.example/submit`),
	}}
	sess.On("Load", mock.Anything).Return(nil)
	sess.On("Close").Return(nil).Once()

	sub := &mockSubmitter{}
	sub.On("Submit", mock.Anything, "https://quiz.example/submit", submissionFor("https://quiz.example/1", "15.5")).
		Return(&model.SubmissionResponse{NextURL: "https://quiz.example/2"}, nil).Once()
	sub.On("Submit", mock.Anything, "https://api.example/submit", submissionFor("https://quiz.example/2", `"done"`)).
		Return(&model.SubmissionResponse{}, nil).Once()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e, drv := newEngine(t, sess, sub, m)

	reason := e.Run(context.Background(), "t1", params)
	assert.Equal(t, model.ReasonCompleted, reason)
	drv.AssertExpectations(t)
	sub.AssertExpectations(t)
	sess.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, 2, sess.pagesClosed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TraversalsFinished.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PagesVisited))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TraversalsActive))
}

func TestRun_NoMatch(t *testing.T) {
	sess := &mockSession{pages: map[string]string{"https://quiz.example/1": `<p>nothing here</p>`}}
	sess.On("Load", mock.Anything).Return(nil)
	sess.On("Close").Return(nil).Once()
	sub := &mockSubmitter{}
	e, _ := newEngine(t, sess, sub, nil)

	assert.Equal(t, model.ReasonNoMatch, e.Run(context.Background(), "t", params))
	sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	sess.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, 1, sess.pagesClosed)
}

func TestRun_DeadEnd(t *testing.T) {
	sess := &mockSession{pages: map[string]string{"https://quiz.example/1": payloadPage(`{"answer": 3}`)}}
	sess.On("Load", mock.Anything).Return(nil)
	sess.On("Close").Return(nil).Once()
	sub := &mockSubmitter{}
	e, _ := newEngine(t, sess, sub, nil)

	assert.Equal(t, model.ReasonDeadEnd, e.Run(context.Background(), "t", params))
	sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	sess.AssertNumberOfCalls(t, "Close", 1)
}

func TestRun_LoadError(t *testing.T) {
	sess := &mockSession{}
	sess.On("Load", "https://quiz.example/1").
		Return(&browser.LoadError{Kind: browser.LoadTimeout, URL: "https://quiz.example/1"}).Once()
	sess.On("Close").Return(nil).Once()
	e, _ := newEngine(t, sess, &mockSubmitter{}, nil)

	assert.Equal(t, model.ReasonLoadError, e.Run(context.Background(), "t", params))
	sess.AssertExpectations(t)
	assert.Equal(t, 0, sess.pagesOpen)
}

func TestRun_SessionError(t *testing.T) {
	drv := &mockDriver{}
	drv.On("NewSession", mock.Anything).Return(nil, errors.New("no browser"))
	e := New(drv, extractor.Default(nil), &mockSubmitter{}, Options{MaxDuration: time.Minute, LoadTimeout: time.Second}, nil, nil)

	assert.Equal(t, model.ReasonSessionError, e.Run(context.Background(), "t", params))
}

func TestRun_SubmitError(t *testing.T) {
	sess := &mockSession{pages: map[string]string{"https://quiz.example/1": tablePage("1")}}
	sess.On("Load", mock.Anything).Return(nil)
	sess.On("Close").Return(nil).Once()
	sub := &mockSubmitter{}
	sub.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()
	e, _ := newEngine(t, sess, sub, nil)

	assert.Equal(t, model.ReasonSubmitError, e.Run(context.Background(), "t", params))
	sess.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, 1, sess.pagesClosed)
}

func TestRun_Deadline(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	sess := &mockSession{pages: map[string]string{"https://quiz.example/1": tablePage("2")}}
	sess.On("Load", mock.Anything).Return(nil)
	sess.On("Close").Return(nil).Once()

	// 端点总是返回同一个地址，每次提交耗时一分钟
	sub := &mockSubmitter{}
	sub.On("Submit", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { clock.Advance(time.Minute) }).
		Return(&model.SubmissionResponse{NextURL: "https://quiz.example/1"}, nil)

	e, _ := newEngine(t, sess, sub, nil)
	e.now = clock.Now

	assert.Equal(t, model.ReasonDeadline, e.Run(context.Background(), "t", params))
	sub.AssertNumberOfCalls(t, "Submit", 3)
	sess.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, 3, sess.pagesClosed)
}

func TestRun_PanicClosesSession(t *testing.T) {
	sess := &mockSession{pages: map[string]string{"https://quiz.example/1": tablePage("1")}}
	sess.On("Load", mock.Anything).Return(nil)
	sess.On("Close").Return(nil).Once()
	sub := &mockSubmitter{}
	sub.On("Submit", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	e, _ := newEngine(t, sess, sub, nil)

	var reason model.TerminationReason
	require.NotPanics(t, func() { reason = e.Run(context.Background(), "t", params) })
	assert.Equal(t, model.ReasonError, reason)
	sess.AssertNumberOfCalls(t, "Close", 1)
	assert.Equal(t, 1, sess.pagesClosed)
}

func TestRun_Canceled(t *testing.T) {
	sess := &mockSession{}
	sess.On("Close").Return(nil).Once()
	e, _ := newEngine(t, sess, &mockSubmitter{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, model.ReasonCanceled, e.Run(ctx, "t", params))
	sess.AssertNotCalled(t, "Load", mock.Anything)
	sess.AssertNumberOfCalls(t, "Close", 1)
}
