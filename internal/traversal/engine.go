// Package traversal drives one browsing session through a chain of quiz
// pages: load, extract, submit, follow the returned url.
package traversal

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"quizrunner/internal/browser"
	"quizrunner/internal/extractor"
	"quizrunner/internal/logger"
	"quizrunner/internal/metrics"
	"quizrunner/pkg/model"
)

// Submitter 答案提交接口，*submit.Submitter 满足该接口
type Submitter interface {
	Submit(ctx context.Context, url string, sub model.Submission) (*model.SubmissionResponse, error)
}

// Options 遍历的时间预算
type Options struct {
	MaxDuration time.Duration
	LoadTimeout time.Duration
}

// Engine 遍历引擎，无状态，可被并发的遍历共享
type Engine struct {
	driver    browser.Driver
	chain     *extractor.Chain
	submitter Submitter
	metrics   *metrics.Metrics
	log       logger.Logger
	now       func() time.Time
	opts      Options
}

// New 创建遍历引擎，m 可为 nil
func New(driver browser.Driver, chain *extractor.Chain, submitter Submitter, opts Options, m *metrics.Metrics, l logger.Logger) *Engine {
	if l == nil {
		l = logger.NewNop()
	}
	return &Engine{
		driver:    driver,
		chain:     chain,
		submitter: submitter,
		metrics:   m,
		log:       l,
		now:       time.Now,
		opts:      opts,
	}
}

// Run 执行一次完整遍历并返回结束原因。所有错误只记录日志，panic 在此恢复
func (e *Engine) Run(ctx context.Context, id model.TraversalID, params model.SessionParams) (reason model.TerminationReason) {
	log := e.log.With("traversal", string(id))
	start := e.now()
	e.metrics.Started()
	defer func() {
		if r := recover(); r != nil {
			log.Error("遍历异常终止", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			reason = model.ReasonError
		}
		elapsed := e.now().Sub(start)
		e.metrics.Finished(reason, elapsed)
		log.Info("遍历结束", "reason", string(reason), "elapsed", elapsed.String())
	}()

	log.Info("开始遍历", "url", params.StartURL, "email", params.Email)
	return e.loop(ctx, log, params)
}

func (e *Engine) loop(ctx context.Context, log logger.Logger, params model.SessionParams) model.TerminationReason {
	// 截止时间只计算一次
	deadline := e.now().Add(e.opts.MaxDuration)

	sess, err := e.driver.NewSession(ctx)
	if err != nil {
		log.Error("创建浏览会话失败", "error", err)
		return model.ReasonSessionError
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("关闭浏览会话失败", "error", err)
		}
	}()

	current := params.StartURL
	for current != "" {
		if ctx.Err() != nil {
			return model.ReasonCanceled
		}
		if !e.now().Before(deadline) {
			log.Warn("已到截止时间，停止遍历", "url", current)
			return model.ReasonDeadline
		}
		next, reason := e.visit(ctx, log, sess, params, current)
		if reason != "" {
			return reason
		}
		current = next
	}
	return model.ReasonCompleted
}

// visit 处理单个页面，返回下一跳；reason 非空表示遍历应结束
func (e *Engine) visit(ctx context.Context, log logger.Logger, sess browser.Session, params model.SessionParams, current string) (string, model.TerminationReason) {
	log.Info("访问页面", "url", current)
	page, err := sess.Load(ctx, current, e.opts.LoadTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return "", model.ReasonCanceled
		}
		log.Error("页面加载失败", "url", current, "error", err)
		return "", model.ReasonLoadError
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Warn("关闭页面失败", "url", current, "error", err)
		}
	}()
	e.metrics.PageVisited()

	res, err := e.chain.Eval(page)
	if err != nil {
		log.Error("提取答案失败", "url", current, "error", err)
		return "", model.ReasonError
	}
	switch res.Outcome {
	case extractor.NoMatch:
		log.Info("no method found, stopping", "url", current)
		return "", model.ReasonNoMatch
	case extractor.Unroutable:
		log.Warn("找到答案但没有提交地址，停止遍历", "url", current, "strategy", res.Strategy)
		return "", model.ReasonDeadEnd
	}

	log.Info("已提取答案", "strategy", res.Strategy, "answer", string(res.Answer), "submitUrl", res.SubmitURL)
	resp, err := e.submitter.Submit(ctx, res.SubmitURL, model.Submission{
		Email:  params.Email,
		Secret: params.Secret,
		URL:    current,
		Answer: res.Answer,
	})
	e.metrics.Submitted(metrics.SubmissionResult(resp, err))
	if err != nil {
		if ctx.Err() != nil {
			return "", model.ReasonCanceled
		}
		log.Error("提交答案失败", "submitUrl", res.SubmitURL, "error", err)
		return "", model.ReasonSubmitError
	}
	if resp == nil {
		return "", ""
	}
	return resp.NextURL, ""
}
