package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txContextKey struct{}

type afterCommitKey struct{}

type afterCommitHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

func (h *afterCommitHooks) add(fn func(context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *afterCommitHooks) run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

// CollectAfterCommit returns a context that defers AfterCommit hooks
// and a flush function that runs the collected hooks in registration
// order. A transaction opener that rolls back simply never flushes.
func CollectAfterCommit(ctx context.Context) (context.Context, func(context.Context)) {
	hooks := &afterCommitHooks{}
	return context.WithValue(ctx, afterCommitKey{}, hooks), hooks.run
}

// AfterCommit defers fn until the outermost transaction commits. Side
// effects that must not survive a rollback (audit rows, cache
// invalidation, event dispatch) go through here. Outside a collecting
// context fn runs immediately.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if hooks, ok := ctx.Value(afterCommitKey{}).(*afterCommitHooks); ok {
		hooks.add(fn)
		return
	}
	fn(ctx)
}

// ContextWithTx stores an open transaction in the context so nested
// units of work join it instead of beginning their own.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the transaction carried by the context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx
}

// RunInTx executes fn inside a RepeatableRead transaction. When the
// context already carries an open transaction the call joins it: fn
// runs on the existing transaction and commit/rollback stays with the
// outermost opener. Any error from fn rolls the whole transaction back.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	hookCtx, flush := CollectAfterCommit(ctx)
	if err := fn(ContextWithTx(hookCtx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	// Hooks run outside the now-closed transaction.
	flush(ctx)
	return nil
}
