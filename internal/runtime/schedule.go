package runtime

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/vk/tasking/internal/barrierstate"
	"github.com/vk/tasking/internal/recipe"
	"github.com/vk/tasking/internal/storageslot"
)

// Start begins driving the tree on a dedicated goroutine and returns
// immediately. The tree reports its terminal DoneWith on the channel
// returned by Done(). Calls after the first have no effect.
func (t *Tree) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.cancelCh = make(chan struct{})
	go t.driverLoop(ctx)
}

// Done returns the channel the tree's terminal outcome is delivered on,
// exactly once.
func (t *Tree) Done() <-chan recipe.DoneWith { return t.doneCh }

// Cancel cooperatively cancels the whole tree. Storage-done hooks still fire
// once the cancellation finishes draining: cancellation is just a
// degenerate case of normal completion.
func (t *Tree) Cancel() {
	t.cancelOne.Do(func() { close(t.cancelCh) })
}

// Stop cancels the tree and additionally suppresses storage-done hooks. Go
// has no destructor to hook "drop a running controller" into, so this is
// the explicit equivalent.
func (t *Tree) Stop() {
	t.mu.Lock()
	t.suppress = true
	t.mu.Unlock()
	t.Cancel()
}

func (t *Tree) driverLoop(ctx context.Context) {
	t.enter(ctx, t.root)

	cancelCh := t.cancelCh
	for !t.root.state.Terminal() {
		select {
		case ev := <-t.events:
			t.handleEvent(ctx, ev)
		case <-cancelCh:
			t.requestCancel(ctx, t.root)
			cancelCh = nil
		}
	}

	result := t.root.state
	var d recipe.DoneWith
	switch result {
	case Succeeded:
		d = recipe.DoneSuccess
	case Failed:
		d = recipe.DoneError
	default:
		d = recipe.DoneCancel
	}
	t.doneCh <- d
}

func (t *Tree) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case evAdapterDone:
		t.onAdapterDone(ctx, ev.node, ev.outcome)
	case evTimeout:
		t.onTimeoutFired(ctx, ev.node)
	}
}

// ---- entering nodes ----

func (t *Tree) enter(ctx context.Context, n *Node) {
	switch n.kind {
	case KindGroup:
		t.enterGroup(ctx, n)
	case KindTask:
		t.enterTask(ctx, n)
	case KindSync:
		t.enterSync(ctx, n)
	case KindBarrierWait:
		t.enterBarrierWait(ctx, n)
	case KindBarrierAdvance:
		t.enterBarrierAdvance(ctx, n)
	}
}

func (t *Tree) enterGroup(ctx context.Context, n *Node) {
	n.state = Running

	if n.group.Setup != nil {
		res := t.invokeGroupSetup(ctx, n)
		switch res {
		case recipe.StopWithSuccess:
			t.creditPrunedProgress(n.children)
			t.finalizeNode(ctx, n, recipe.DoneSuccess)
			return
		case recipe.StopWithError:
			t.creditPrunedProgress(n.children)
			t.finalizeNode(ctx, n, recipe.DoneError)
			return
		}
	}

	n.storageValues = make(map[storageslot.Key]any, len(n.storageDecls))
	for _, decl := range n.storageDecls {
		v := t.newStorage(decl)
		n.storageValues[decl.Key] = v
		if n.parent == nil {
			if hook, ok := t.setupHooks[decl.Key]; ok {
				hook(v)
			}
		}
	}

	t.startTimeoutIfAny(ctx, n)

	if len(n.children) == 0 {
		// Empty-group tie-break default per workflow policy.
		t.finalizeGroupDecided(ctx, n, emptyGroupDefault(n.group.Workflow))
		return
	}

	n.sem = semaphore.NewWeighted(int64(n.group.Mode.Limit()))
	t.pumpGroup(ctx, n)
}

// pumpGroup starts as many NotStarted children as the group's concurrency
// mode currently allows, in order, until the limit is reached, scheduling
// is stopped, or children are exhausted. The limit is enforced with a
// semaphore's non-blocking TryAcquire rather than a bare counter: the
// driver must never block here, so TryAcquire (fail-fast when no capacity
// remains) is the correct half of x/sync/semaphore's API for this loop.
func (t *Tree) pumpGroup(ctx context.Context, n *Node) {
	for !n.stopScheduling && n.nextChildIdx < len(n.children) {
		if !n.sem.TryAcquire(1) {
			break
		}
		child := n.children[n.nextChildIdx]
		n.nextChildIdx++
		n.liveChildren++
		t.enter(ctx, child)
	}

	if n.nextChildIdx >= len(n.children) && n.liveChildren == 0 {
		t.finishGroupIfReady(ctx, n)
	}
}

func (t *Tree) finishGroupIfReady(ctx context.Context, n *Node) {
	if n.cancelled {
		// n was itself the direct target of a cancellation (a timeout firing
		// on it, or an ancestor's cascade) rather than merely hosting a
		// child whose error tripped its own workflow policy: its outcome is
		// Cancel regardless of what its children's policy decision would
		// otherwise have been.
		t.finalizeGroupDecided(ctx, n, recipe.DoneCancel)
		return
	}
	if n.decided != nil {
		t.finalizeGroupDecided(ctx, n, *n.decided)
		return
	}
	// All children finished without the policy forcing an early decision
	// (ContinueOnError/ContinueOnSuccess/FinishAll* run this path).
	t.finalizeGroupDecided(ctx, n, finalPolicyOutcome(n))
}

// ---- task leaves ----

func (t *Tree) enterTask(ctx context.Context, n *Node) {
	n.state = Running
	adapter := n.task.NewAdapter()
	n.adapter = adapter

	if n.task.Setup != nil {
		res := t.invokeTaskSetup(ctx, n, adapter)
		switch res {
		case recipe.StopWithSuccess:
			t.finalizeNode(ctx, n, recipe.DoneSuccess)
			return
		case recipe.StopWithError:
			t.finalizeNode(ctx, n, recipe.DoneError)
			return
		}
	}

	t.startTimeoutIfAny(ctx, n)

	err := t.startAdapter(ctx, n, adapter)
	if err != nil {
		t.finalizeNode(ctx, n, recipe.DoneError)
	}
}

func (t *Tree) startAdapter(ctx context.Context, n *Node, adapter recipe.Adapter) (startErr error) {
	report := func(o recipe.Outcome) {
		t.events <- event{node: n, kind: evAdapterDone, outcome: o}
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("adapter panicked during Start", "path", n.path, "panic", r)
			startErr = errPanicked
		}
	}()
	return adapter.Start(ctx, report)
}

func (t *Tree) onAdapterDone(ctx context.Context, n *Node, o recipe.Outcome) {
	if n.state.Terminal() {
		return
	}
	raw := recipe.DoneSuccess
	if o == recipe.OutcomeFailure {
		raw = recipe.DoneError
	}
	if n.cancelled {
		raw = recipe.DoneCancel
	}
	t.finalizeNode(ctx, n, raw)
}

// ---- sync leaves ----

func (t *Tree) enterSync(ctx context.Context, n *Node) {
	n.state = Running
	res := t.invokeSync(ctx, n)
	raw := recipe.DoneSuccess
	if res == recipe.ResultError {
		raw = recipe.DoneError
	}
	t.finalizeNode(ctx, n, raw)
}

// ---- barrier leaves ----

func (t *Tree) enterBarrierWait(ctx context.Context, n *Node) {
	n.state = Running
	b := t.resolveBarrier(n, n.barrierWait.BarrierKey)
	id := n.path
	n.waiterRegistered = true
	b.Register(id, func() {
		t.events <- event{node: n, kind: evAdapterDone, outcome: recipe.OutcomeSuccess}
	})
}

func (t *Tree) enterBarrierAdvance(ctx context.Context, n *Node) {
	n.state = Running
	b := t.resolveBarrier(n, n.barrierAdvance.BarrierKey)
	released := b.Advance(n.barrierAdvance.N)
	for _, cb := range released {
		cb()
	}
	t.finalizeNode(ctx, n, recipe.DoneSuccess)
}

func (t *Tree) resolveBarrier(n *Node, key storageslot.Key) *barrierstate.Barrier {
	v, ok := ActiveInstance(n, key)
	if !ok {
		// Compile-time validation guarantees a declaring ancestor exists;
		// reaching here means the ancestor group never entered, which a
		// correct compile rejects up front.
		panic("tasking: barrier key resolved to no active instance at runtime")
	}
	return v.(*barrierstate.Barrier)
}

// ---- finalization & propagation ----

func (t *Tree) finalizeNode(ctx context.Context, n *Node, raw recipe.DoneWith) {
	if n.state.Terminal() {
		return
	}
	t.stopTimeout(n)

	effective := raw
	ran := false
	var result recipe.DoneResult

	switch n.kind {
	case KindGroup:
		if n.group.Done != nil {
			result = t.invokeGroupDone(ctx, n, raw)
			ran = true
		}
	case KindTask:
		if n.task.Done != nil && filterAllows(n.task.Filter, raw) {
			result = t.invokeTaskDone(ctx, n, n.adapter, raw)
			ran = true
		}
	}

	if ran {
		if result == recipe.ResultSuccess {
			effective = recipe.DoneSuccess
		} else {
			effective = recipe.DoneError
		}
	} else if raw != recipe.DoneSuccess {
		effective = recipe.DoneError
	}

	n.state = stateForDoneWith(raw)
	if ran && raw != recipe.DoneCancel {
		// A done handler's rewrite is the node's own outcome; only the
		// engine can produce Cancel, so a cancelled node stays Canceled.
		n.state = stateForDoneWith(effective)
	}

	if n.kind == KindGroup {
		for _, decl := range n.storageDecls {
			v, ok := n.storageValues[decl.Key]
			if !ok {
				// Setup rejected the group before its storage was created.
				continue
			}
			if n.parent == nil {
				t.mu.Lock()
				suppress := t.suppress
				t.mu.Unlock()
				if !suppress {
					if hook, ok := t.doneHooks[decl.Key]; ok {
						hook(v)
					}
				}
			}
			t.releaseStorage()
		}
	}
	if n.kind == KindTask || n.kind == KindBarrierWait {
		t.progressCur.Add(1)
	}

	if n.parent == nil {
		return
	}
	t.onChildFinished(ctx, n.parent, n, effective, raw)
}

// finalizeGroupDecided is finalizeNode's entry point for groups, since a
// group's raw outcome is whatever the policy decided rather than something
// observed directly.
func (t *Tree) finalizeGroupDecided(ctx context.Context, n *Node, raw recipe.DoneWith) {
	t.finalizeNode(ctx, n, raw)
}

func (t *Tree) onChildFinished(ctx context.Context, parent *Node, child *Node, effective recipe.DoneWith, raw recipe.DoneWith) {
	parent.liveChildren--
	parent.sem.Release(1)
	if raw == recipe.DoneCancel {
		parent.anyChildCancelled = true
	}
	if effective == recipe.DoneSuccess {
		parent.successCount++
	} else {
		parent.errorCount++
	}

	t.applyPolicy(ctx, parent, effective)
	t.pumpGroup(ctx, parent)
}

// applyPolicy implements the per-child decision table: whether this child's
// outcome should stop scheduling further siblings and/or pin the group's
// final decided outcome.
func (t *Tree) applyPolicy(ctx context.Context, parent *Node, effective recipe.DoneWith) {
	if parent.decided != nil {
		return
	}
	w := parent.group.Workflow
	isError := effective == recipe.DoneError

	switch w {
	case recipe.StopOnError:
		if isError {
			t.decideAndCancelSiblings(ctx, parent, recipe.DoneError)
		}
	case recipe.StopOnSuccess:
		if !isError {
			t.decideAndCancelSiblings(ctx, parent, recipe.DoneSuccess)
		}
	case recipe.StopOnSuccessOrError:
		out := recipe.DoneSuccess
		if isError {
			out = recipe.DoneError
		}
		t.decideAndCancelSiblings(ctx, parent, out)
	case recipe.ContinueOnError:
		if isError {
			d := recipe.DoneError
			parent.decided = &d
		}
	case recipe.ContinueOnSuccess:
		if !isError {
			d := recipe.DoneSuccess
			parent.decided = &d
		}
	case recipe.FinishAllAndSuccess, recipe.FinishAllAndError:
		// Decision is only made once every child has reported; see
		// finalPolicyOutcome, invoked from finishGroupIfReady.
	}
}

func (t *Tree) decideAndCancelSiblings(ctx context.Context, parent *Node, out recipe.DoneWith) {
	d := out
	parent.decided = &d
	parent.stopScheduling = true
	// Not-yet-started siblings are pruned silently: skipping ahead of
	// nextChildIdx means pumpGroup will never enter them. They still owe
	// their share of progressMax, since compilation counted them, so credit
	// it now rather than leaving progressValue permanently short.
	t.creditPrunedProgress(parent.children[parent.nextChildIdx:])
	parent.nextChildIdx = len(parent.children)
	for _, child := range currentlyLiveChildren(parent) {
		t.requestCancel(ctx, child)
	}
}

func currentlyLiveChildren(parent *Node) []*Node {
	live := make([]*Node, 0, parent.liveChildren)
	for _, c := range parent.children {
		if c.state == Running {
			live = append(live, c)
		}
	}
	return live
}

// creditPrunedProgress walks nodes that were never entered (and so never
// reached finalizeNode) and advances progressCur for every task and barrier
// wait among them, recursing into groups since an unentered group's own
// children are themselves guaranteed never entered. This does not touch
// successCount, errorCount, or anyChildCancelled, and no handler runs: a
// pruned node stays NotStarted forever, only its progress contribution is
// no longer stuck.
func (t *Tree) creditPrunedProgress(pruned []*Node) {
	var count int64
	for _, n := range pruned {
		count += prunedProgressCount(n)
	}
	if count > 0 {
		t.progressCur.Add(count)
	}
}

func prunedProgressCount(n *Node) int64 {
	switch n.kind {
	case KindTask, KindBarrierWait:
		return 1
	case KindGroup:
		var count int64
		for _, c := range n.children {
			count += prunedProgressCount(c)
		}
		return count
	default:
		return 0
	}
}

// finalPolicyOutcome computes a group's outcome once scheduling has reached
// the end of its children list with no early decision (ContinueOnError,
// ContinueOnSuccess landing on the "safe" side, and both FinishAll* policies).
// FinishAllAndSuccess and FinishAllAndError are fixed outcomes regardless of
// how individual children fared — that's the whole point of "finish all" —
// except that FinishAllAndSuccess reports Error when any child ended
// cancelled (e.g. by its own timeout). A group that is itself the direct
// cancellation target never gets here: it finalizes with Cancel (see
// finishGroupIfReady).
func finalPolicyOutcome(n *Node) recipe.DoneWith {
	switch n.group.Workflow {
	case recipe.ContinueOnError:
		if n.errorCount > 0 {
			return recipe.DoneError
		}
		return recipe.DoneSuccess
	case recipe.ContinueOnSuccess:
		if n.successCount > 0 {
			return recipe.DoneSuccess
		}
		return recipe.DoneError
	case recipe.FinishAllAndSuccess:
		if n.anyChildCancelled {
			return recipe.DoneError
		}
		return recipe.DoneSuccess
	case recipe.FinishAllAndError:
		return recipe.DoneError
	case recipe.StopOnSuccess:
		// Any succeeding child would have decided Success early via
		// applyPolicy; reaching here means none succeeded.
		return recipe.DoneError
	default:
		// StopOnError reaching here means every child succeeded.
		// StopOnSuccessOrError always decides on its first finished child,
		// so a non-empty group of that policy never reaches here.
		return recipe.DoneSuccess
	}
}

// emptyGroupDefault is the tie-break outcome for a group with zero children:
// a policy whose "nothing succeeded" reading wins the tie (StopOnSuccess,
// StopOnSuccessOrError, ContinueOnSuccess) or that always ends in Error
// (FinishAllAndError) reports Error for an empty group; everything else
// reports Success.
func emptyGroupDefault(w recipe.Workflow) recipe.DoneWith {
	switch w {
	case recipe.StopOnSuccess, recipe.StopOnSuccessOrError, recipe.ContinueOnSuccess, recipe.FinishAllAndError:
		return recipe.DoneError
	default:
		return recipe.DoneSuccess
	}
}

func stateForDoneWith(raw recipe.DoneWith) State {
	switch raw {
	case recipe.DoneSuccess:
		return Succeeded
	case recipe.DoneError:
		return Failed
	default:
		return Canceled
	}
}

func filterAllows(f recipe.Filter, raw recipe.DoneWith) bool {
	switch f {
	case recipe.FilterOnSuccess:
		return raw == recipe.DoneSuccess
	case recipe.FilterOnError:
		return raw != recipe.DoneSuccess
	default:
		return true
	}
}

// ---- cancellation ----

// requestCancel marks n (and, for groups, recursively its live subtree) for
// cancellation. Not-yet-started nodes are only flagged; their parent never
// enters them because the cancelling group skips nextChildIdx to the end.
// Running tasks have RequestCancel called on their adapter and finish once
// it reports; a Running barrier wait is unregistered and finalized with
// Cancel at once. Sync and barrier-advance leaves complete within one
// driver turn, so they are never Running here.
func (t *Tree) requestCancel(ctx context.Context, n *Node) {
	if n.state.Terminal() || n.cancelled {
		return
	}
	n.cancelled = true

	if n.state == NotStarted {
		// Pruned silently: never reaches Running, so no setup/done handler
		// of its own ever runs and it is never counted in its parent's
		// successCount/errorCount. Its progress share was already credited
		// by whichever ancestor pruned it (decideAndCancelSiblings or the
		// KindGroup case below), so there's nothing left to do here.
		return
	}

	switch n.kind {
	case KindGroup:
		t.creditPrunedProgress(n.children[n.nextChildIdx:])
		n.stopScheduling = true
		n.nextChildIdx = len(n.children)
		for _, c := range currentlyLiveChildren(n) {
			t.requestCancel(ctx, c)
		}
	case KindTask:
		if n.adapter != nil {
			func() {
				defer func() { recover() }()
				n.adapter.RequestCancel()
			}()
		}
	case KindBarrierWait:
		b := t.resolveBarrier(n, n.barrierWait.BarrierKey)
		if n.waiterRegistered {
			b.Unregister(n.path)
		}
		t.finalizeNode(ctx, n, recipe.DoneCancel)
	}
}
