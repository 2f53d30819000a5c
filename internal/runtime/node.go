// Package runtime compiles a recipe.Group into a mutable runtime tree and
// drives it to completion: the scheduler, the outcome propagator,
// parallel-limit and barrier enforcement, and timeouts all live here.
// Everything is owned by a single driver goroutine per Tree; the only
// cross-goroutine traffic is the buffered event channel that adapters
// report completions through.
package runtime

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vk/tasking/internal/recipe"
	"github.com/vk/tasking/internal/storageslot"
)

// Kind is the tagged-variant discriminant for a runtime Node, in place of a
// runtime-type hierarchy.
type Kind int

const (
	KindGroup Kind = iota
	KindTask
	KindSync
	KindBarrierWait
	KindBarrierAdvance
)

// State is a runtime node's position in the NotStarted -> Running ->
// {Succeeded, Failed, Canceled} state machine. Terminal states are sticky:
// once reached, a node never transitions again.
type State int32

const (
	NotStarted State = iota
	Running
	Succeeded
	Failed
	Canceled
)

func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Canceled
}

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	default:
		return "Canceled"
	}
}

// Node is one vertex of the compiled runtime tree. Every field is mutated
// only from the Tree's single driver goroutine, so no locking is needed on
// the node itself — the sole exception is adapters calling their report
// callback from a background goroutine, which is marshalled through
// Tree.events rather than touching the Node directly.
type Node struct {
	id     int64
	path   string // diagnostic dotted path, e.g. "0.2.1"
	kind   Kind
	parent *Node

	// --- Group fields ---
	group             *recipe.Group
	children          []*Node
	nextChildIdx      int
	liveChildren      int
	successCount      int
	errorCount        int
	anyChildCancelled bool
	decided           *recipe.DoneWith
	stopScheduling    bool
	storageDecls      []storageslot.Decl      // this group's own (deduped) declarations
	storageValues     map[storageslot.Key]any // instances this group itself pushed, by key
	sem               *semaphore.Weighted     // gates concurrently-running children per Mode.Limit()

	// --- Task fields ---
	task    *recipe.Task
	adapter recipe.Adapter

	// --- Sync fields ---
	sync *recipe.Sync

	// --- Barrier leaf fields ---
	barrierWait      *recipe.BarrierWait
	barrierAdvance   *recipe.BarrierAdvance
	waiterRegistered bool

	state     State
	cancelled bool
	stopCh    chan struct{} // closed to disarm a pending timeout goroutine
}

// ID returns the node's stable identifier assigned at compile time.
func (n *Node) ID() int64 { return n.id }

// Path returns a human-readable dotted path for logging.
func (n *Node) Path() string { return n.path }

// Clock abstracts time.After so timeout tests can inject deterministic,
// instantly-firing timers instead of racing real wall-clock durations.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the production Clock backed by time.After.
var RealClock Clock = realClock{}

// eventKind distinguishes what woke the driver loop for a given node.
type eventKind int

const (
	evAdapterDone eventKind = iota
	evTimeout
)

type event struct {
	node    *Node
	kind    eventKind
	outcome recipe.Outcome
}

// Tree is a compiled, running instance of a recipe.Group.
type Tree struct {
	root   *Node
	logger *slog.Logger
	clock  Clock

	progressMax int64
	progressCur atomic.Int64

	events    chan event
	cancelCh  chan struct{}
	cancelOne sync.Once

	mu       sync.Mutex
	started  bool
	doneCh   chan recipe.DoneWith
	suppress bool // set by Stop(): don't dispatch storage-done hooks

	storageMu   sync.Mutex
	storageLive int

	setupHooks map[storageslot.Key]func(any)
	doneHooks  map[storageslot.Key]func(any)
}

// ProgressValue returns the number of asynchronous leaves that have
// completed so far. Safe to call from any goroutine.
func (t *Tree) ProgressValue() int { return int(t.progressCur.Load()) }

// ProgressMaximum returns the total number of asynchronous leaves (tasks
// and barrier waits) the compiled tree contains.
func (t *Tree) ProgressMaximum() int { return int(t.progressMax) }

// StorageLive exposes the arena's live-instance count, for tests asserting
// no storage instance outlives the group that declared it.
func (t *Tree) StorageLive() int {
	t.storageMu.Lock()
	defer t.storageMu.Unlock()
	return t.storageLive
}

func (t *Tree) newStorage(decl storageslot.Decl) any {
	v := decl.NewDefault()
	t.storageMu.Lock()
	t.storageLive++
	t.storageMu.Unlock()
	return v
}

func (t *Tree) releaseStorage() {
	t.storageMu.Lock()
	t.storageLive--
	t.storageMu.Unlock()
}

// ActiveInstance resolves the active instance of key as seen from n, walking
// toward the root and stopping at the nearest ancestor group (including n
// itself) that declared it. It is implemented structurally rather than via
// a shared stack, so that two concurrent parallel subtrees that each shadow
// the same key independently never see each other's instance.
func ActiveInstance(n *Node, key storageslot.Key) (any, bool) {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.kind == KindGroup {
			if v, ok := cur.storageValues[key]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// SetClock overrides the clock used for timeouts; call before Start.
func (t *Tree) SetClock(c Clock) { t.clock = c }

// SetupHooks / DoneHooks registration, called before Start.
func (t *Tree) OnStorageSetup(key storageslot.Key, fn func(any)) { t.setupHooks[key] = fn }
func (t *Tree) OnStorageDone(key storageslot.Key, fn func(any))  { t.doneHooks[key] = fn }
