package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/vk/tasking/internal/ctxlog"
	"github.com/vk/tasking/internal/recipe"
	"github.com/vk/tasking/internal/storageslot"
)

// compiler assigns stable NodeIDs and resolves barrier references while
// walking the recipe.Group tree exactly once, in a single pass.
type compiler struct {
	logger      *slog.Logger
	nextID      int64
	progressMax int64
	// declaredBy counts, per storage key, how many ancestors on the current
	// root-to-node path have declared it. A barrier leaf may only reference
	// a key with a positive count: the barrier lives in an ambient storage
	// slot rooted at its declaring group.
	declaredBy map[storageslot.Key]int
}

// Compile builds a runtime tree from an immutable recipe.Group. Re-compiling
// the same AST deterministically yields the same progress maximum and an
// equivalent runtime, since compilation has no side effects on the AST
// itself.
func Compile(ctx context.Context, g *recipe.Group) (*Tree, error) {
	logger := ctxlog.FromContext(ctx)
	c := &compiler{logger: logger, declaredBy: make(map[storageslot.Key]int)}

	root, err := c.buildGroup(g, nil, "0")
	if err != nil {
		return nil, err
	}

	t := &Tree{
		root:        root,
		logger:      logger,
		clock:       RealClock,
		progressMax: c.progressMax,
		events:      make(chan event, 64),
		doneCh:      make(chan recipe.DoneWith, 1),
		setupHooks:  make(map[storageslot.Key]func(any)),
		doneHooks:   make(map[storageslot.Key]func(any)),
	}
	return t, nil
}

func (c *compiler) allocID() int64 {
	id := c.nextID
	c.nextID++
	return id
}

func (c *compiler) buildGroup(g *recipe.Group, parent *Node, path string) (*Node, error) {
	node := &Node{
		id:     c.allocID(),
		path:   path,
		kind:   KindGroup,
		parent: parent,
		group:  g,
	}

	// Two storage declarations of the same key in one group: keep the first,
	// warn and drop the repeat.
	seen := make(map[storageslot.Key]bool, len(g.Storages))
	for _, decl := range g.Storages {
		if seen[decl.Key] {
			c.logger.Warn("duplicate storage declaration in group, dropping", "group", path, "key", decl.Key.Name())
			continue
		}
		seen[decl.Key] = true
		node.storageDecls = append(node.storageDecls, decl)
	}

	for _, decl := range node.storageDecls {
		c.declaredBy[decl.Key]++
	}
	defer func() {
		for _, decl := range node.storageDecls {
			c.declaredBy[decl.Key]--
		}
	}()

	for i, item := range g.Children {
		childPath := path + "." + strconv.Itoa(i)
		child, err := c.buildItem(item, node, childPath)
		if err != nil {
			return nil, err
		}
		node.children = append(node.children, child)
	}

	return node, nil
}

func (c *compiler) buildItem(item recipe.Item, parent *Node, path string) (*Node, error) {
	switch v := item.(type) {
	case *recipe.Group:
		return c.buildGroup(v, parent, path)
	case *recipe.Task:
		c.progressMax++
		return &Node{id: c.allocID(), path: path, kind: KindTask, parent: parent, task: v}, nil
	case *recipe.Sync:
		return &Node{id: c.allocID(), path: path, kind: KindSync, parent: parent, sync: v}, nil
	case *recipe.BarrierWait:
		if c.declaredBy[v.BarrierKey] <= 0 {
			return nil, fmt.Errorf("tasking: waitForBarrier %q referenced at %s before any ancestor group declared it", v.BarrierKey.Name(), path)
		}
		c.progressMax++
		return &Node{id: c.allocID(), path: path, kind: KindBarrierWait, parent: parent, barrierWait: v}, nil
	case *recipe.BarrierAdvance:
		if c.declaredBy[v.BarrierKey] <= 0 {
			return nil, fmt.Errorf("tasking: barrierAdvance %q referenced at %s before any ancestor group declared it", v.BarrierKey.Name(), path)
		}
		return &Node{id: c.allocID(), path: path, kind: KindBarrierAdvance, parent: parent, barrierAdvance: v}, nil
	default:
		return nil, fmt.Errorf("tasking: unknown recipe item type %T at %s", item, path)
	}
}
