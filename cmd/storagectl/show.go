package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.storagectl.dev/storagectl/internal/sid"
	"go.storagectl.dev/storagectl/internal/storageenv"
	"go.storagectl.dev/storagectl/internal/textui"
	"go.storagectl.dev/storagectl/internal/xmlgraph"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "show",
			Short: "Print the system devicegraph (--devicegraph-file) and its used-features summary",
		},
		RunE: runShow,
	})
}

func runShow(ctx context.Context, env *storageenv.Environment, cmd *cobra.Command, args []string) error {
	f, err := os.Open(env.DevicegraphFilename)
	if err != nil {
		return err
	}
	defer f.Close()

	gen := sid.NewGenerator()
	devRecs, holdRecs, err := xmlgraph.Load(f, gen)
	if err != nil {
		return err
	}

	textui.Fprintf(cmd.OutOrStdout(), "%d devices, %d holders\n", len(devRecs), len(holdRecs))
	for _, d := range devRecs {
		textui.Fprintf(cmd.OutOrStdout(), "  %v sid=%v %s (%s)\n", d.Kind, d.Sid, d.Name, textui.IEC(d.Size, "B"))
	}
	for _, h := range holdRecs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %v: %v -> %v\n", h.Kind, h.Source, h.Target)
	}
	return nil
}
