package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lottery_engine/internal/engine"
	"lottery_engine/internal/model"
	"lottery_engine/internal/notify"
	"lottery_engine/internal/store/sqlite"
)

// errNotSuccessful is returned after the outcomes are printed, for a non-zero exit.
var errNotSuccessful = errors.New("one or more batches did not succeed")

type runFlags struct {
	email     string
	password  string
	numbers   string
	accountID string
	all       bool
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run lottery batches in the foreground and print the outcomes as JSON",
		Example: `  lottery run --email me@example.com --password secret --numbers 1-3
  lottery run --account 6f1c...
  lottery run --all`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.email, "email", "", "account email")
	cmd.Flags().StringVar(&f.password, "password", "", "account password")
	cmd.Flags().StringVar(&f.numbers, "numbers", "", "lottery numbers, e.g. 1,2 or 1-3")
	cmd.Flags().StringVar(&f.accountID, "account", "", "stored account id")
	cmd.Flags().BoolVar(&f.all, "all", false, "run every enabled stored account")
	cmd.MarkFlagsMutuallyExclusive("email", "account", "all")
	cmd.MarkFlagsRequiredTogether("email", "password")
	cmd.MarkFlagsOneRequired("email", "account", "all")
	return cmd
}

func (a *app) run(parent context.Context, f *runFlags, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	numbers, err := parseNumbers(f.numbers)
	if err != nil {
		return err
	}

	store, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier := notify.NewEmailNotifier(store, a.bus)
	defer func() {
		// Flush pending summaries even after a stop signal.
		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := notifier.Close(flushCtx); err != nil {
			a.logger.Warn("email queue not drained", zap.Error(err))
		}
	}()

	p := a.newPipeline()
	defer func() {
		if err := p.close(); err != nil {
			a.logger.Warn("closing browser failed", zap.Error(err))
		}
	}()

	eng := engine.New(engine.Options{
		Store:    store,
		Sessions: p.launcher,
		Runner:   p.runner,
		Bus:      a.bus,
		Notifier: notifier,
		Limits:   a.cfg.Limits,
		Numbers:  a.cfg.Lottery.Numbers,
	})

	var runs []model.RunRecord
	switch {
	case f.email != "":
		run, err := eng.RunOnce(ctx, model.Credential{Email: f.email, Password: f.password}, numbers)
		if err != nil {
			return err
		}
		runs = append(runs, run)
	case f.accountID != "":
		run, err := eng.RunAccount(ctx, f.accountID)
		if err != nil {
			return err
		}
		runs = append(runs, run)
	default:
		accounts, err := store.ListEnabledAccounts(ctx)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			return engine.ErrNoAccounts
		}
		for _, acc := range accounts {
			if ctx.Err() != nil {
				break
			}
			run, err := eng.RunAccount(ctx, acc.ID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					break
				}
				return err
			}
			runs = append(runs, run)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runs); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	for _, r := range runs {
		if r.FinalStatus != model.FinalSuccess {
			return errNotSuccessful
		}
	}
	return nil
}
