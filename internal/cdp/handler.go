package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
)

// lifecycleNetworkIdle Chrome 在 500ms 内无网络连接时发出的生命周期事件
const lifecycleNetworkIdle = "networkIdle"

// lifecycleStream 生命周期事件流，page.LifecycleEventClient 满足该接口
type lifecycleStream interface {
	Recv() (*page.LifecycleEventReply, error)
	Close() error
}

// waitNetworkIdle 消费生命周期事件直到主框架本次导航进入 networkIdle，或 ctx 结束
func waitNetworkIdle(ctx context.Context, events lifecycleStream, frameID page.FrameID, loaderID *network.LoaderID) error {
	// 同文档导航没有新的 loader，不会再触发生命周期事件
	if loaderID == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		for {
			ev, err := events.Recv()
			if err != nil {
				done <- err
				return
			}
			if isNetworkIdle(ev, frameID, *loaderID) {
				done <- nil
				return
			}
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// 关闭事件流以结束上面的 Recv
		_ = events.Close()
		return ctx.Err()
	}
}

func isNetworkIdle(ev *page.LifecycleEventReply, frameID page.FrameID, loaderID network.LoaderID) bool {
	return ev != nil &&
		ev.Name == lifecycleNetworkIdle &&
		ev.FrameID == frameID &&
		ev.LoaderID == loaderID
}
