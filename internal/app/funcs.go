package app

import (
	"context"
	"fmt"
	"time"

	"taskd/internal/executor"
	"taskd/internal/storage"
)

// registerBuiltins wires the in-process actions available to tasks via
// "func:<name>" commands.
func registerBuiltins(funcs *executor.Funcs, store *storage.Store) {
	funcs.Register("noop", func(context.Context) (string, error) {
		return "ok", nil
	})

	// Prunes execution history older than 30 days. Useful as a scheduled
	// housekeeping task on the store itself.
	funcs.Register("purge_history", func(ctx context.Context) (string, error) {
		n, err := store.Purge(ctx, 30*24*time.Hour)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("purged %d history rows", n), nil
	})
}
