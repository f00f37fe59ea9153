package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbscribe/dbscribe/pkg/confluence/storage"
	"github.com/dbscribe/dbscribe/pkg/retry"
)

// PageAPI is the slice of the wiki client the executor drives.
type PageAPI interface {
	CreatePage(ctx context.Context, spaceID, parentID, title, body string) (string, error)
	UpdatePage(ctx context.Context, pageID string, version int, title, body string) error
	DeletePage(ctx context.Context, pageID string) error
	MovePage(ctx context.Context, pageID, position, targetID string) error
}

type opStatus int

const (
	statusPending opStatus = iota
	statusInFlight
	statusSucceeded
	statusFailed
	statusSkipped
)

// opState tracks one operation through the run. deps are indices into
// the executor's op slice; an op starts only once every dep succeeded.
type opState struct {
	op     Operation
	deps   []int
	status opStatus
	err    error
}

// Executor runs a plan against the wiki with bounded concurrency.
// Operations are dispatched as soon as their dependencies succeed:
// a create waits for its parent's create, a reorder waits for the
// creates and updates of the pages it orders, and deletes run one at
// a time
// because the wiki misbehaves under parallel deletes.
type Executor struct {
	api    PageAPI
	logger *zap.Logger

	spaceID  string
	anchorID string

	// MaxInFlight bounds concurrently running operations.
	MaxInFlight int
	// Retry controls per-operation retries on transient failures.
	Retry *retry.Config

	mu       sync.Mutex
	ops      []*opState
	keyToID  map[string]string
	inFlight int
	canceled bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewExecutor creates an executor writing under the given space and
// anchor page.
func NewExecutor(api PageAPI, spaceID, anchorID string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		api:         api,
		logger:      logger.Named("executor"),
		spaceID:     spaceID,
		anchorID:    anchorID,
		MaxInFlight: 8,
		Retry:       retry.DefaultConfig(),
	}
}

// Execute runs the plan to completion and reports what happened. A
// failing operation fails everything that depends on it but leaves
// independent branches running. Cancellation stops new dispatches;
// operations already in flight finish.
func (e *Executor) Execute(ctx context.Context, plan *Plan) *Summary {
	start := time.Now()
	summary := &Summary{Conflicts: plan.Conflicts, Orphans: plan.Orphans}
	if plan.Empty() {
		summary.Duration = time.Since(start)
		return summary
	}

	e.load(plan)

	go func() {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.canceled = true
			e.checkDoneLocked()
			e.mu.Unlock()
		case <-e.done:
		}
	}()

	e.mu.Lock()
	e.dispatchLocked(ctx)
	e.mu.Unlock()

	<-e.done
	e.wg.Wait()

	e.mu.Lock()
	for _, st := range e.ops {
		switch st.status {
		case statusSucceeded:
			switch st.op.Kind {
			case OpCreate:
				summary.Created++
			case OpUpdate:
				summary.Updated++
			case OpReorder:
				summary.Reordered++
			case OpDelete:
				summary.Deleted++
			}
		case statusFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{
				Op:  st.op.String(),
				Err: st.err.Error(),
			})
		case statusSkipped:
			summary.Skipped++
			summary.Failures = append(summary.Failures, Failure{
				Op:      st.op.String(),
				Err:     st.err.Error(),
				Skipped: true,
			})
		}
	}
	e.mu.Unlock()

	summary.Duration = time.Since(start)
	return summary
}

// load indexes the plan into op states and wires dependencies.
func (e *Executor) load(plan *Plan) {
	e.keyToID = make(map[string]string, len(plan.KnownIDs))
	for k, id := range plan.KnownIDs {
		e.keyToID[k] = id
	}

	createIdx := make(map[string]int)
	updateIdx := make(map[string]int)
	for i, op := range plan.Operations {
		switch op.Kind {
		case OpCreate:
			createIdx[op.Key] = i
		case OpUpdate:
			updateIdx[op.Key] = i
		}
	}

	e.ops = make([]*opState, len(plan.Operations))
	lastDelete := -1
	for i, op := range plan.Operations {
		st := &opState{op: op}
		switch op.Kind {
		case OpCreate:
			if op.ParentKey != "" {
				if j, ok := createIdx[op.ParentKey]; ok {
					st.deps = append(st.deps, j)
				}
			}
		case OpReorder:
			// Moving a page concurrently with its create or update is a
			// version conflict waiting to happen, so a reorder waits for
			// both kinds on the parent and every ordered child.
			if op.Key != "" {
				if j, ok := createIdx[op.Key]; ok {
					st.deps = append(st.deps, j)
				}
				if j, ok := updateIdx[op.Key]; ok {
					st.deps = append(st.deps, j)
				}
			}
			for _, key := range op.OrderedKeys {
				if j, ok := createIdx[key]; ok {
					st.deps = append(st.deps, j)
				}
				if j, ok := updateIdx[key]; ok {
					st.deps = append(st.deps, j)
				}
			}
		case OpDelete:
			// Plan order already has children before parents; chaining
			// serializes deletes on top of that.
			if lastDelete >= 0 {
				st.deps = append(st.deps, lastDelete)
			}
			lastDelete = i
		}
		e.ops[i] = st
	}
	e.done = make(chan struct{})
}

// dispatchLocked starts every pending operation whose dependencies
// have succeeded, up to the in-flight bound. Called with mu held.
func (e *Executor) dispatchLocked(ctx context.Context) {
	if e.canceled {
		e.checkDoneLocked()
		return
	}
	for i, st := range e.ops {
		if e.inFlight >= e.MaxInFlight {
			break
		}
		if st.status != statusPending {
			continue
		}
		ready := true
		for _, dep := range st.deps {
			switch e.ops[dep].status {
			case statusSucceeded:
			case statusFailed, statusSkipped:
				st.status = statusSkipped
				st.err = fmt.Errorf("dependency failed: %s", e.ops[dep].op)
				ready = false
			default:
				ready = false
			}
			if !ready {
				break
			}
		}
		if !ready {
			continue
		}

		st.status = statusInFlight
		e.inFlight++
		e.wg.Add(1)
		idx := i
		go func() {
			defer e.wg.Done()
			err := e.run(ctx, e.ops[idx].op)
			e.complete(ctx, idx, err)
		}()
	}
	e.checkDoneLocked()
}

func (e *Executor) complete(ctx context.Context, idx int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.ops[idx]
	e.inFlight--
	if err != nil {
		st.status = statusFailed
		st.err = err
		e.logger.Error("operation failed", zap.String("op", st.op.String()), zap.Error(err))
	} else {
		st.status = statusSucceeded
		e.logger.Debug("operation done", zap.String("op", st.op.String()))
	}
	e.dispatchLocked(ctx)
}

// checkDoneLocked closes done once nothing can make progress anymore.
func (e *Executor) checkDoneLocked() {
	if e.inFlight > 0 {
		return
	}
	for _, st := range e.ops {
		if st.status == statusInFlight {
			return
		}
		if st.status == statusPending {
			if e.canceled {
				st.status = statusSkipped
				st.err = context.Canceled
				continue
			}
			// A pending op with a pending dependency resolves on a later
			// dispatch; a pending op here with zero in-flight work means
			// its dependency terminated without dispatch reaching it yet.
			return
		}
	}
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// run executes one operation with retries on transient errors.
func (e *Executor) run(ctx context.Context, op Operation) error {
	switch op.Kind {
	case OpCreate:
		return e.runCreate(ctx, op)
	case OpUpdate:
		return retry.DoIfRetryable(ctx, e.Retry, func() error {
			return e.api.UpdatePage(ctx, op.PageID, op.Version, op.Title, storage.EmbedKey(op.Key, op.Body))
		})
	case OpDelete:
		return retry.DoIfRetryable(ctx, e.Retry, func() error {
			return e.api.DeletePage(ctx, op.PageID)
		})
	case OpReorder:
		return e.runReorder(ctx, op)
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}

func (e *Executor) runCreate(ctx context.Context, op Operation) error {
	parentID := e.anchorID
	if op.ParentKey != "" {
		e.mu.Lock()
		id, ok := e.keyToID[op.ParentKey]
		e.mu.Unlock()
		if !ok {
			return fmt.Errorf("parent %s has no remote page", op.ParentKey)
		}
		parentID = id
	}

	var id string
	err := retry.DoIfRetryable(ctx, e.Retry, func() error {
		created, err := e.api.CreatePage(ctx, e.spaceID, parentID, op.Title, storage.EmbedKey(op.Key, op.Body))
		if err != nil {
			return err
		}
		id = created
		return nil
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.keyToID[op.Key] = id
	e.mu.Unlock()
	return nil
}

// runReorder moves each child after its predecessor, in order. Keys
// without a remote id (a failed create upstream) are left out.
func (e *Executor) runReorder(ctx context.Context, op Operation) error {
	e.mu.Lock()
	ids := make([]string, 0, len(op.OrderedKeys))
	for _, key := range op.OrderedKeys {
		if id, ok := e.keyToID[key]; ok {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for i := 1; i < len(ids); i++ {
		err := retry.DoIfRetryable(ctx, e.Retry, func() error {
			return e.api.MovePage(ctx, ids[i], "after", ids[i-1])
		})
		if err != nil {
			return fmt.Errorf("move page %s: %w", ids[i], err)
		}
	}
	return nil
}
