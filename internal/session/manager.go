package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"quizrunner/internal/logger"
	"quizrunner/pkg/model"

	"github.com/google/uuid"
)

// ErrShuttingDown 进程正在退出，不再接受新遍历
var ErrShuttingDown = errors.New("traversal manager is shutting down")

// Runner 执行一次遍历，*traversal.Engine 满足该接口
type Runner interface {
	Run(ctx context.Context, id model.TraversalID, params model.SessionParams) model.TerminationReason
}

type running struct {
	info   model.TraversalInfo
	cancel context.CancelFunc
}

// Manager 后台遍历管理器，启动后不等待结果
type Manager struct {
	mu        sync.RWMutex
	running   map[model.TraversalID]*running
	wg        sync.WaitGroup
	closed    bool
	base      context.Context
	cancelAll context.CancelFunc
	runner    Runner
	log       logger.Logger
}

// NewManager 创建遍历管理器
func NewManager(r Runner, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		running:   make(map[model.TraversalID]*running),
		base:      base,
		cancelAll: cancel,
		runner:    r,
		log:       l,
	}
}

// StartTraversal 在后台启动遍历并立即返回
func (m *Manager) StartTraversal(params model.SessionParams) (model.TraversalID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrShuttingDown
	}

	id := model.TraversalID(uuid.NewString())
	ctx, cancel := context.WithCancel(m.base)
	m.running[id] = &running{
		info:   model.TraversalInfo{ID: id, StartURL: params.StartURL, Email: params.Email},
		cancel: cancel,
	}
	m.wg.Add(1)
	go m.run(ctx, id, params)

	m.log.Info("遍历已启动", "traversal", string(id), "url", params.StartURL)
	return id, nil
}

func (m *Manager) run(ctx context.Context, id model.TraversalID, params model.SessionParams) {
	defer m.wg.Done()
	defer m.remove(id)
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("遍历任务异常", "traversal", string(id), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	m.runner.Run(ctx, id, params)
}

func (m *Manager) remove(id model.TraversalID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.running[id]; ok {
		r.cancel()
		delete(m.running, id)
	}
}

// Active 正在运行的遍历数
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.running)
}

// List 返回正在运行的遍历
func (m *Manager) List() []model.TraversalInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]model.TraversalInfo, 0, len(m.running))
	for _, r := range m.running {
		list = append(list, r.info)
	}
	return list
}

// Shutdown 拒绝新遍历，取消正在运行的遍历并等待其释放浏览会话
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	n := len(m.running)
	m.mu.Unlock()

	m.cancelAll()
	m.log.Info("等待遍历退出", "active", n)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for traversals: %w", ctx.Err())
	}
}
