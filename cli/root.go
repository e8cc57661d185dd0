// Package cli wires the components into the custodyledger command.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"custodyledger_go/config"
	"custodyledger_go/custody"
	"custodyledger_go/gateway"
	"custodyledger_go/node"
	"custodyledger_go/utils"
)

type app struct {
	v          *viper.Viper
	cfg        *config.Config
	configFile string
}

// NewRootCommand builds the command tree with a fresh configuration.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:           "custodyledger",
		Short:         "Build, custody-sign, group and submit ledger transactions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return utils.Configure(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Configuration file (yaml, toml or json)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "console", "Log format: console or json")
	flags.String("node-url", "", "Node API base URL")
	flags.String("node-token", "", "Node API token")
	flags.String("custody-url", "", "Custody service base URL")
	bindFlags(a.v, flags, map[string]string{
		"log-level":   "log.level",
		"log-format":  "log.format",
		"node-url":    "node.url",
		"node-token":  "node.token",
		"custody-url": "custody.url",
	})

	cmd.AddCommand(
		a.pubkeyCommand(),
		a.sendCommand(),
		a.groupCommand(),
		a.statusCommand(),
		a.custodydCommand(),
		a.devnetCommand(),
	)
	return cmd
}

// Execute runs the command line until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// bindFlags ties each flag to a configuration key. A flag only overrides the
// file and environment when it is set explicitly.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func (a *app) custodian() (*custody.Client, error) {
	if a.cfg.Custody.URL == "" {
		return nil, fmt.Errorf("custody.url is not configured")
	}
	return custody.NewClient(custody.ClientConfig{
		URL:             a.cfg.Custody.URL,
		Timeout:         a.cfg.Custody.Timeout,
		MaxRetries:      a.cfg.Custody.MaxRetries,
		BreakerFailures: a.cfg.Custody.BreakerFailures,
	})
}

func (a *app) gateway() (*gateway.Gateway, error) {
	client, err := node.NewClient(node.Config{
		URL:        a.cfg.Node.URL,
		Token:      a.cfg.Node.Token,
		Timeout:    a.cfg.Node.Timeout,
		MaxRetries: 3,
	})
	if err != nil {
		return nil, err
	}
	return gateway.New(client, a.cfg.Submit.MaxRounds), nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
