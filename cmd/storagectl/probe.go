package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"go.storagectl.dev/storagectl/internal/cmdexec"
	"go.storagectl.dev/storagectl/internal/devicegraph"
	"go.storagectl.dev/storagectl/internal/prober"
	"go.storagectl.dev/storagectl/internal/sid"
	"go.storagectl.dev/storagectl/internal/storageenv"
	"go.storagectl.dev/storagectl/internal/xmlgraph"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "probe",
			Short: "Probe the live system and write the probed devicegraph to --devicegraph-file",
		},
		RunE: runProbe,
	})
}

type logCallbacks struct{ ctx context.Context }

func (c logCallbacks) Begin()            { dlog.Info(c.ctx, "probe: begin") }
func (c logCallbacks) End()              { dlog.Info(c.ctx, "probe: end") }
func (c logCallbacks) Message(text string) { dlog.Info(c.ctx, "probe: "+text) }
func (c logCallbacks) Error(message string, what error) bool {
	dlog.Errorf(c.ctx, "probe: %s: %v", message, what)
	return true
}

func runProbe(ctx context.Context, env *storageenv.Environment, cmd *cobra.Command, args []string) error {
	if env.ProbeMode == storageenv.ProbeNone {
		dlog.Info(ctx, "probe: LIBSTORAGE_PROBE_MODE=NONE, skipping")
		return nil
	}

	exec := cmdexec.Direct{Rewrite: env.Rewrite}
	gen := sid.NewGenerator()
	p := prober.New(exec, gen, env)

	g, err := p.Probe(ctx, logCallbacks{ctx: ctx})
	if err != nil {
		return err
	}

	// Keep the raw probe result under its own name and work from a clone
	// as "system" (spec.md §4.E), so a later `plan`/`commit` run diffing
	// against "system" never aliases the Prober's own graph instance.
	store := devicegraph.NewStore()
	store.Set(devicegraph.Probed, g)
	system, err := store.Clone(devicegraph.Probed, devicegraph.System)
	if err != nil {
		return err
	}

	uf := devicegraph.ComputeUsedFeatures(system)
	dlog.Infof(ctx, "probe: used features: %v", uf)

	f, err := os.Create(env.DevicegraphFilename)
	if err != nil {
		return err
	}
	defer f.Close()
	return xmlgraph.Save(f, system)
}
