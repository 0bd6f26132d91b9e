// Package extractor finds the answer and its submit endpoint on a rendered
// quiz page. Strategies are tried in a fixed order and the first one that
// yields a routable answer wins.
package extractor

import (
	"encoding/json"
	"fmt"

	"quizrunner/internal/browser"
	"quizrunner/internal/logger"
)

// Outcome 单个策略或整条链的结果类型
type Outcome int

const (
	// NoMatch 页面不符合该策略
	NoMatch Outcome = iota
	// Matched 得到答案和提交地址
	Matched
	// Unroutable 得到答案但找不到提交地址
	Unroutable
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Unroutable:
		return "unroutable"
	default:
		return "no_match"
	}
}

// Result 提取结果，只由一个策略产生
type Result struct {
	Outcome   Outcome
	Strategy  string
	Answer    json.RawMessage
	SubmitURL string
}

// Strategy 提取策略。返回 error 仅表示 DOM 查询失败，解析失败应返回 NoMatch
type Strategy interface {
	Name() string
	Extract(page *browser.Page) (Result, error)
}

// Observer 每个策略评估完成后回调，用于指标
type Observer func(strategy string, outcome Outcome)

// Chain 有序策略链
type Chain struct {
	strategies []Strategy
	observe    Observer
	log        logger.Logger
}

// New 按给定顺序创建策略链
func New(l logger.Logger, strategies ...Strategy) *Chain {
	if l == nil {
		l = logger.NewNop()
	}
	return &Chain{strategies: strategies, log: l}
}

// Default 编码载荷优先，其次表格求和
func Default(l logger.Logger) *Chain {
	return New(l, PayloadStrategy{}, TableStrategy{})
}

// Observe 设置回调，返回自身便于链式调用
func (c *Chain) Observe(fn Observer) *Chain {
	c.observe = fn
	return c
}

// Eval 依次尝试策略，首个 Matched 胜出；否则若有策略得到答案则返回 Unroutable
func (c *Chain) Eval(page *browser.Page) (Result, error) {
	var unroutable *Result
	for _, s := range c.strategies {
		res, err := s.Extract(page)
		if err != nil {
			return Result{}, fmt.Errorf("strategy %s: %w", s.Name(), err)
		}
		res.Strategy = s.Name()
		if c.observe != nil {
			c.observe(s.Name(), res.Outcome)
		}
		switch res.Outcome {
		case Matched:
			return res, nil
		case Unroutable:
			c.log.Debug("策略得到答案但没有提交地址", "strategy", s.Name(), "url", page.URL())
			if unroutable == nil {
				r := res
				unroutable = &r
			}
		}
	}
	if unroutable != nil {
		return *unroutable, nil
	}
	return Result{Outcome: NoMatch}, nil
}
