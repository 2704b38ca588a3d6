package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"storefront/internal/cartsync"
	"storefront/internal/client"
	"storefront/internal/clientconfig"
	"storefront/internal/localstore"
	"storefront/internal/logger"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type rootOptions struct {
	ConfigPath string
	Format     string // text | json
}

// コマンド共通の部品
type app struct {
	cfg     clientconfig.Config
	store   *localstore.Store
	api     *client.Client
	syncer  *cartsync.Syncer
	printer *message.Printer
}

// コマンドを実行して、最後に必ずローカルの保存先を閉じる
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	return err
}

func newRootCommand(a *app) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "cartctl",
		Short:         "Shopping cart client",
		Long:          "Keeps a local cart and syncs it with the cart service once you log in.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return a.open(cmd.Context(), opts.ConfigPath)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", clientconfig.DefaultPath(), "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(
		newShowCommand(a, opts),
		newAddCommand(a, opts),
		newSetCommand(a, opts),
		newRemoveCommand(a, opts),
		newClearCommand(a, opts),
		newLoginCommand(a, opts),
		newLogoutCommand(a, opts),
		newProductsCommand(a, opts),
	)
	return cmd
}

func (a *app) open(ctx context.Context, configPath string) error {
	cfg, err := clientconfig.Load(configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log := logger.New(logger.Options{
		Service: "cartctl",
		Level:   cfg.LogLevel,
		Output:  os.Stderr,
	})

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	st, err := localstore.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	a.store = st

	cache := cartsync.NewCache(st, log)
	if err := cache.Restore(ctx); err != nil {
		return err
	}

	a.api = client.New(cfg.BaseURL, cfg.Timeout)
	a.syncer = cartsync.NewSyncer(a.api, cache, cartsync.Options{
		Debounce:    cfg.Debounce,
		CallTimeout: cfg.Timeout,
		Retries:     cfg.Retries,
		RetryBase:   cfg.RetryBase,
		Logger:      log,
	})

	// 前回のログインを引き継ぐ
	ident, ok, err := st.LoadSession(ctx)
	if err != nil {
		return err
	}
	if ok {
		a.syncer.Resume(ident)
	}

	a.printer = message.NewPrinter(language.Make(cfg.Locale))
	return nil
}

func (a *app) close() error {
	if a.syncer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
		_ = a.syncer.Flush(ctx)
		cancel()
		a.syncer.Close()
		a.syncer = nil
	}
	if a.store != nil {
		err := a.store.Close()
		a.store = nil
		return err
	}
	return nil
}

func (a *app) flushCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	// リトライ分も含めて待つ
	budget := a.cfg.Timeout*time.Duration(a.cfg.Retries+2) + a.cfg.RetryBase<<a.cfg.Retries
	return context.WithTimeout(ctx, budget)
}
