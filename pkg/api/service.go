package api

import (
	"context"

	"quizrunner/internal/logger"
	"quizrunner/internal/session"
	"quizrunner/pkg/model"
)

// Service 服务接口
type Service interface {
	// StartTraversal 启动后台遍历，不等待结果
	StartTraversal(params model.SessionParams) (model.TraversalID, error)

	// Active 正在运行的遍历数
	Active() int

	// List 列出正在运行的遍历
	List() []model.TraversalInfo

	// Shutdown 取消并等待所有遍历
	Shutdown(ctx context.Context) error
}

// NewService 创建并返回服务接口实现
func NewService(r session.Runner, l logger.Logger) Service {
	return session.NewManager(r, l)
}
