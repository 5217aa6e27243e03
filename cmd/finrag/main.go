package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"finrag/internal/config"
	"finrag/internal/logging"
	"finrag/internal/metrics"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	// closers run even when the command failed
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "finrag",
		Short:         "Retrieval over financial documents and company ticker lookup",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			var err error
			if a.cfgPath == "" {
				a.cfg, a.cfgPath, err = config.LoadDefault()
			} else {
				a.cfg, err = config.Load(a.cfgPath)
			}
			if err != nil {
				return err
			}
			a.log = logging.New(a.cfg.Log)
			a.metrics = metrics.New()
			a.log.Debug().Str("config", a.cfgPath).Str("command", cmd.Name()).Msg("config loaded")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to YAML config (default ./config.yaml, then ~/.config/finrag/config.yaml)")

	root.AddCommand(
		newIndexCmd(a),
		newTickersCmd(a),
		newAskCmd(a),
		newMatchCmd(a),
		newServeCmd(a),
		newTUICmd(a),
	)
	return root
}
