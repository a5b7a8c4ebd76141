package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/cartstore/internal/identity"
	"github.com/vladislavdragonenkov/cartstore/internal/service/cart"
	"github.com/vladislavdragonenkov/cartstore/internal/service/cartsync"
	"github.com/vladislavdragonenkov/cartstore/internal/storage/file"
	"github.com/vladislavdragonenkov/cartstore/internal/version"
)

const defaultStorageDir = "./data/cart"

// cliOptions — глобальные флаги cartctl.
type cliOptions struct {
	dir      string
	logLevel string
}

// cartEnv — корзина поверх каталога file storage, общего с сервисом и другими cartctl.
type cartEnv struct {
	kv       *file.Store
	hub      *cartsync.Hub
	resolver *identity.Resolver
	store    *cart.Store
	merge    *cart.MergeEngine
	logger   *log.Entry
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "cartctl",
		Short:         "Inspect and edit the local storefront cart",
		Long:          "cartctl works with the same file storage directory as storefront-cart (CART_STORAGE_DRIVER=file).",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := log.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			log.SetLevel(level)
			log.SetOutput(cmd.ErrOrStderr())
			return nil
		},
	}

	dir := os.Getenv("CART_STORAGE_DIR")
	if dir == "" {
		dir = defaultStorageDir
	}
	root.PersistentFlags().StringVar(&opts.dir, "dir", dir, "file storage directory (env CART_STORAGE_DIR)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug|info|warn|error")

	root.AddCommand(
		newShowCmd(opts),
		newAddCmd(opts),
		newDecreaseCmd(opts),
		newRemoveCmd(opts),
		newClearCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return root
}

// openCart открывает хранилище без наблюдения за каталогом.
func openCart(opts *cliOptions) (*cartEnv, error) {
	logger := log.WithField("component", "cartctl")
	kv, err := file.Open(opts.dir, file.WithLogger(logger.WithField("storage", "file")))
	if err != nil {
		return nil, err
	}

	hub := cartsync.NewHub()
	resolver := identity.NewResolver(kv, logger.WithField("component", "identity-resolver"))
	store := cart.NewStore(kv, resolver, hub, cart.WithLogger(logger.WithField("component", "cart-store")))
	return &cartEnv{
		kv:       kv,
		hub:      hub,
		resolver: resolver,
		store:    store,
		merge:    cart.NewMergeEngine(store),
		logger:   logger,
	}, nil
}

func (e *cartEnv) close() {
	if err := e.kv.Close(); err != nil {
		e.logger.WithError(err).Warn("close file storage")
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// withCart открывает корзину на время одной команды.
func withCart(opts *cliOptions, fn func(env *cartEnv) error) error {
	env, err := openCart(opts)
	if err != nil {
		return err
	}
	defer env.close()
	return fn(env)
}

func writeLine(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}
