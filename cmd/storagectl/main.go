// Command storagectl is the CLI front-end for the storage configuration
// engine: probe the live system, compute a plan against a desired
// staging graph, and commit it.
//
// Grounded on cmd/btrfs-rec/main.go's cobra/pflag/dgroup/dlog wiring,
// generalized from "one inspect/repair command tree over an open
// filesystem" to "one probe/show/plan/commit command tree over a
// devicegraph.Store".
package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go.storagectl.dev/storagectl/internal/storageenv"
	"go.storagectl.dev/storagectl/internal/textui"
)

type subcommand struct {
	cobra.Command
	RunE func(ctx context.Context, env *storageenv.Environment, cmd *cobra.Command, args []string) error
}

var subcommands []subcommand

// logLevelFlag is a pflag.Value over logrus.Level, the logging backend
// this CLI's dlog.Logger is built from (cmd/btrfs-rec/main.go's own
// logLevelFlag, unchanged: cobra/pflag binds to logrus directly;
// internal/textui.LogLevelFlag parses the same vocabulary for that
// package's dlog.OptimizedLogger backend, which this CLI does not use).
type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

func main() {
	logLevelFlag := logLevelFlag{
		Level: logrus.InfoLevel,
	}

	argparser := &cobra.Command{
		Use:   "storagectl {[flags]|SUBCOMMAND}",
		Short: "Probe, plan, and commit declarative block-device/LVM/LUKS/Btrfs storage configuration",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity")

	for _, child := range subcommands {
		cmd := child.Command
		runE := child.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logrus.New()
			logger.SetLevel(logLevelFlag.Level)
			ctx = dlog.WithLogger(ctx, dlog.WrapLogrus(logger))

			env, err := storageenv.FromOSEnv()
			if err != nil {
				return err
			}

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
				EnableSignalHandling: true,
			})
			grp.Go("main", func(ctx context.Context) error {
				cmd.SetContext(ctx)
				return runE(ctx, env, cmd, args)
			})
			return grp.Wait()
		}
		argparser.AddCommand(&cmd)
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
