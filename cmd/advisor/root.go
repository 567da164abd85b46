package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/logx"

	"magnus-advisor/pkg/config"
	"magnus-advisor/pkg/confkit"
)

type rootOptions struct {
	configPath string
	verbose    bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "advisor",
		Short:         "Position recommendations from a rule engine and an LLM",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.verbose {
				cfg.Log.Level = "debug"
				if cfg.LLM != nil {
					cfg.LLM.Verbose = true
				}
			}
			logx.MustSetup(cfg.Log.LogConf())
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging, including prompts")

	root.AddCommand(newAnalyzeCmd(opts))
	root.AddCommand(newBudgetCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

// loadConfig accepts a path relative to the working directory or the project root.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		resolved, rerr := confkit.ProjectPath(path)
		if rerr != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		path = resolved
	}
	return config.Load(path)
}
