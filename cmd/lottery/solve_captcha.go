package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lottery_engine/internal/captcha"
	"lottery_engine/internal/interrupt"
)

// newSolveCaptchaCmd submits one reCAPTCHA task to the solving service, to
// check the api key and site key outside a browser run.
func newSolveCaptchaCmd(a *app) *cobra.Command {
	var (
		url     string
		siteKey string
		action  string
		score   float64
	)
	cmd := &cobra.Command{
		Use:   "solve-captcha",
		Short: "Solve one reCAPTCHA v3 Enterprise task and print the token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if url == "" {
				url = a.cfg.Site.LoginURL
			}
			if score <= 0 {
				score = a.cfg.Captcha.MinScore
			}
			solver := captcha.New(captcha.OptionsFrom(a.cfg.Captcha), a.bus)

			start := time.Now()
			token, err := solver.Solve(interrupt.New(ctx, nil), captcha.Task{
				SiteKey:    siteKey,
				WebsiteURL: url,
				MinScore:   score,
				PageAction: action,
			})
			if err != nil {
				return fmt.Errorf("solve captcha: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "solved in %s, token length %d\n", time.Since(start).Round(time.Millisecond), len(token))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page url the token is for (default site.loginURL)")
	cmd.Flags().StringVar(&siteKey, "sitekey", "", "reCAPTCHA site key")
	cmd.Flags().StringVar(&action, "action", "login", "reCAPTCHA page action")
	cmd.Flags().Float64Var(&score, "score", 0, "minimum score, one of 0.3, 0.7, 0.9")
	_ = cmd.MarkFlagRequired("sitekey")
	return cmd
}
