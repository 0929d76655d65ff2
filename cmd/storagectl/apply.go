package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/actiongraph"
	"go.storagectl.dev/storagectl/internal/cmdexec"
	"go.storagectl.dev/storagectl/internal/commit"
	"go.storagectl.dev/storagectl/internal/devicegraph"
	"go.storagectl.dev/storagectl/internal/sid"
	"go.storagectl.dev/storagectl/internal/storageenv"
	"go.storagectl.dev/storagectl/internal/textui"
	"go.storagectl.dev/storagectl/internal/xmlgraph"
)

var applyStagingFile string

func init() {
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "commit",
			Short: "Compute the plan against --staging-file and apply it",
		},
		RunE: runApply,
	}
	cmd.Flags().StringVar(&applyStagingFile, "staging-file", "", "XML devicegraph describing the desired state")
	_ = cmd.MarkFlagRequired("staging-file")
	subcommands = append(subcommands, cmd)
}

// cliCallbacks logs each action's progress and aborts the remaining plan
// on the first failure; interactive skip-and-continue is left to a
// future --keep-going flag (none of the retrieved examples model an
// interactive prompt loop to ground one on).
type cliCallbacks struct{ ctx context.Context }

func (c cliCallbacks) Message(a action.Action, tense action.Tense) {
	dlog.Info(c.ctx, a.Text(tense))
}

func (c cliCallbacks) Error(a action.Action, err error) bool {
	dlog.Errorf(c.ctx, "commit: %s: %v", a.Text(action.SimplePresent), err)
	return false
}

func runApply(ctx context.Context, env *storageenv.Environment, cmd *cobra.Command, args []string) error {
	if env.ReadOnly {
		return fmt.Errorf("storagectl: LIBSTORAGE_READONLY is set, refusing to commit")
	}

	unlock, err := env.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	gen := sid.NewGenerator()
	lhs, err := loadGraph(env.DevicegraphFilename, gen)
	if err != nil {
		return err
	}
	rhs, err := loadGraph(applyStagingFile, gen)
	if err != nil {
		return err
	}

	store := devicegraph.NewStore()
	store.Set(devicegraph.System, lhs)
	store.Set(devicegraph.Staging, rhs)

	ag, err := actiongraph.Diff(store.Get(devicegraph.System), store.Get(devicegraph.Staging))
	if err != nil {
		return err
	}
	if len(ag.Order) == 0 {
		textui.Fprintf(cmd.OutOrStdout(), "no changes\n")
		return nil
	}

	direct := cmdexec.Direct{Rewrite: env.Rewrite}
	var exec cmdexec.Executor = direct
	var mockup *cmdexec.Mockup
	if env.MockupFilename != "" {
		mockup = cmdexec.NewMockup(cmdexec.MockupRecord, direct)
		exec = mockup
	}

	results := commit.Run(ctx, exec, ag, cliCallbacks{ctx: ctx})

	var failed bool
	for i, res := range results {
		ref := ag.Order[i]
		a := ag.Actions[ref]
		switch {
		case res.Err != nil:
			failed = true
			textui.Fprintf(cmd.OutOrStdout(), "FAILED: %s: %v\n", a.Text(action.SimplePast), res.Err)
		case res.Skipped:
			textui.Fprintf(cmd.OutOrStdout(), "SKIPPED: %s\n", a.Text(action.SimplePresent))
		default:
			textui.Fprintf(cmd.OutOrStdout(), "OK: %s\n", a.Text(action.SimplePast))
		}
	}

	if mockup != nil {
		data, err := mockup.SaveFile()
		if err != nil {
			return err
		}
		if err := os.WriteFile(env.MockupFilename, data, 0o644); err != nil {
			return fmt.Errorf("storagectl: writing mockup file: %w", err)
		}
		if unused := mockup.UnusedEntries(); len(unused) > 0 {
			dlog.Warn(ctx, fmt.Sprintf("commit: mockup recorded %d invocations never replayed by this run", len(unused)))
		}
	}

	if failed {
		return fmt.Errorf("storagectl: commit failed, see above")
	}

	// The applied staging graph is now the live system state (spec.md
	// §4.E); persist it as such so the next plan/commit diffs against it
	// rather than the pre-commit snapshot.
	if err := store.Rename(devicegraph.Staging, devicegraph.System); err != nil {
		return err
	}
	f, err := os.Create(env.DevicegraphFilename)
	if err != nil {
		return err
	}
	defer f.Close()
	return xmlgraph.Save(f, store.Get(devicegraph.System))
}
