package runtime

import (
	"context"
	"time"

	"github.com/vk/tasking/internal/recipe"
)

// startTimeoutIfAny arms n's timer, if its recipe node declared one. Firing
// posts an evTimeout event rather than acting directly, so timeout handling
// stays serialized on the driver goroutine like every other transition.
func (t *Tree) startTimeoutIfAny(ctx context.Context, n *Node) {
	d, onTimeout := timeoutFor(n)
	if d <= 0 {
		return
	}
	ch := t.clock.After(d)
	n.stopCh = make(chan struct{})
	stop := n.stopCh
	go func() {
		select {
		case <-ch:
			t.events <- event{node: n, kind: evTimeout}
		case <-stop:
		}
	}()
	_ = onTimeout
}

func timeoutFor(n *Node) (time.Duration, recipe.TimeoutFunc) {
	switch n.kind {
	case KindGroup:
		return n.group.Timeout, n.group.OnTimeout
	case KindTask:
		return n.task.Timeout, n.task.OnTimeout
	default:
		return 0, nil
	}
}

// stopTimeout disarms n's timer, if any, once n finalizes through any other
// path so a late-firing timer never double-finalizes the node.
func (t *Tree) stopTimeout(n *Node) {
	if n.stopCh != nil {
		close(n.stopCh)
		n.stopCh = nil
	}
}

func (t *Tree) onTimeoutFired(ctx context.Context, n *Node) {
	if n.state.Terminal() {
		return
	}
	_, onTimeout := timeoutFor(n)
	if onTimeout != nil {
		t.invokeOnTimeout(ctx, n, onTimeout)
	}
	// A timeout cancels exactly the node it fired on: the node's own done
	// handler still runs, observing DoneCancel, then propagation proceeds
	// exactly like any other cancellation. requestCancel
	// itself sets n.cancelled — setting it here first would make its
	// already-cancelled guard a no-op and silently drop the cascade.
	t.requestCancel(ctx, n)
}

func (t *Tree) invokeOnTimeout(ctx context.Context, n *Node, fn recipe.TimeoutFunc) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("timeout handler panicked", "path", n.path, "panic", r)
		}
	}()
	fn(t.withNodeContext(ctx, n))
}
