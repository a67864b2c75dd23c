package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lottery_engine/internal/browser"
	"lottery_engine/internal/captcha"
	"lottery_engine/internal/config"
	"lottery_engine/internal/flow"
	"lottery_engine/internal/logbus"
	"lottery_engine/internal/otp"
)

// app holds what every subcommand needs once the config is loaded.
type app struct {
	cfgFile string

	cfg    config.Config
	logger *zap.Logger
	bus    *logbus.Bus
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "lottery",
		Short:         "Enter Pokémon Center lotteries for stored accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "./config.yaml", "path to config.yaml")

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newSolveCaptchaCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = logbus.NewLogger(cfg.Log)
	a.bus = logbus.New(cfg.Log.BusCapacity, logbus.WithLogger(a.logger))
	a.logger.Info("config loaded", zap.String("config", a.cfgFile))
	return nil
}

func (a *app) close() {
	a.bus.Close()
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// pipeline is the browser side of a batch: launcher, solver, mailbox and
// the flow runner on top of them.
type pipeline struct {
	launcher *browser.Launcher
	solver   *captcha.Solver
	runner   *flow.Runner
}

func (a *app) newPipeline() *pipeline {
	solver := captcha.New(captcha.OptionsFrom(a.cfg.Captcha), a.bus)
	mailbox := otp.NewIMAPMailbox(a.cfg.Mail)
	retriever := otp.NewRetriever(mailbox, otp.OptionsFrom(a.cfg.Mail), a.bus)
	return &pipeline{
		launcher: browser.NewLauncher(a.cfg.Browser, a.bus),
		solver:   solver,
		runner:   flow.NewRunner(flow.OptionsFrom(a.cfg, solver, retriever, a.bus)),
	}
}

func (p *pipeline) close() error {
	return p.launcher.Close()
}

// parseNumbers accepts "1,2,3" and ranges like "1-3".
func parseNumbers(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			from, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid number range %q", part)
			}
			to, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || to < from {
				return nil, fmt.Errorf("invalid number range %q", part)
			}
			for n := from; n <= to; n++ {
				out = append(out, n)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 && strings.TrimSpace(raw) != "" {
		return nil, errors.New("no lottery numbers given")
	}
	return out, nil
}
