package main

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/service/cartsync"
)

func newWatchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream cartUpdated events as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withCart(opts, func(env *cartEnv) error {
				out := &lineWriter{w: cmd.OutOrStdout()}
				unsubscribe := env.hub.Subscribe(out.event)
				defer unsubscribe()

				if err := env.kv.Start(ctx); err != nil {
					return err
				}
				bridge := cartsync.NewStorageBridge(env.kv, env.store, env.hub,
					cartsync.WithBridgeLogger(env.logger.WithField("component", "cart-storage-bridge")),
				)
				bridge.Start()
				defer bridge.Stop()

				env.store.Notify()
				<-ctx.Done()
				return nil
			})
		},
	}
}

// lineWriter печатает события по одному JSON на строку; события приходят из горутины watcher.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) event(event domain.ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(append(data, '\n'))
}
