package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"finrag/internal/server"
	"finrag/internal/tui"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval, ticker matching and answers over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r, err := a.retriever()
			if err != nil {
				return err
			}
			m, err := a.matcher()
			if err != nil {
				return err
			}
			p, err := a.policy(r)
			if err != nil {
				return err
			}
			// an index or roster that cannot be loaded at startup is fatal;
			// only SIGHUP reloads fall back to the previous snapshot
			if err := a.loadIndex(ctx, r); err != nil {
				return errors.Wrap(err, "load document index")
			}
			if err := a.initMatcher(ctx, m); err != nil {
				return errors.Wrap(err, "initialize ticker matcher")
			}

			sc := a.cfg.Server
			srv := server.New(server.Config{
				Addr:         sc.Addr,
				ReadTimeout:  secs(sc.ReadTimeoutSecs),
				WriteTimeout: secs(sc.WriteTimeoutSecs),
			}, r, m, p, server.WithLogger(a.log), server.WithMetrics(a.metrics))

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						a.log.Info().Msg("reloading index and ticker cache")
						if err := a.loadIndex(ctx, r); err != nil {
							a.log.Error().Err(err).Msg("index reload failed, keeping previous index")
						}
						if err := a.initMatcher(ctx, m); err != nil {
							a.log.Error().Err(err).Msg("ticker reload failed, keeping previous roster")
						}
					}
				}
			}()

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), secs(sc.ShutdownTimeoutSecs))
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errc
		},
	}
}

func newTUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal for questions and ticker lookups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.retriever()
			if err != nil {
				return err
			}
			if err := a.loadIndex(cmd.Context(), r); err != nil {
				return err
			}
			m, err := a.matcher()
			if err != nil {
				return err
			}
			if err := a.initMatcher(cmd.Context(), m); err != nil {
				return err
			}
			p, err := a.policy(r)
			if err != nil {
				return err
			}
			port := tui.Services{Policy: p, Matcher: m, TopN: a.cfg.Ticker.TopN}
			model := tui.New(port, secs(a.cfg.Answer.OpenAI.TimeoutSecs))
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
}
