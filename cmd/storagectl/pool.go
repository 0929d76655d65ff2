package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go.storagectl.dev/storagectl/internal/containers"
	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/pool"
	"go.storagectl.dev/storagectl/internal/sid"
	"go.storagectl.dev/storagectl/internal/storageenv"
	"go.storagectl.dev/storagectl/internal/textui"
	"go.storagectl.dev/storagectl/internal/xmlgraph"
)

var (
	poolCandidates []string
	poolCount      int
	poolSize       uint64
	poolOutFile    string
)

func init() {
	cmd := subcommand{
		Command: cobra.Command{
			Use:   "pool",
			Short: "Allocate --count partitions of --size bytes across --candidates and write the result to --out-file",
		},
		RunE: runPool,
	}
	cmd.Flags().StringSliceVar(&poolCandidates, "candidates", nil, "device names to draw partitions from, resolved against --devicegraph-file")
	cmd.Flags().IntVar(&poolCount, "count", 1, "number of partitions to create")
	cmd.Flags().Uint64Var(&poolSize, "size", 0, "requested size of each partition, in bytes")
	cmd.Flags().StringVar(&poolOutFile, "out-file", "", "XML devicegraph to write the result (staging) to")
	_ = cmd.MarkFlagRequired("candidates")
	_ = cmd.MarkFlagRequired("size")
	_ = cmd.MarkFlagRequired("out-file")
	subcommands = append(subcommands, cmd)
}

// runPool loads the system devicegraph, runs the Pool allocator
// (internal/pool, spec.md §4.J) over the named candidates, materializes
// each Allocation as a real Partition device on its chosen candidate's
// table, and writes the resulting staging graph to --out-file for a
// subsequent `plan`/`commit`.
func runPool(ctx context.Context, env *storageenv.Environment, cmd *cobra.Command, args []string) error {
	gen := sid.NewGenerator()
	g, err := loadGraph(env.DevicegraphFilename, gen)
	if err != nil {
		return err
	}

	byName := make(map[string]sid.Sid, g.NumDevices())
	for _, d := range g.Devices() {
		byName[d.Name] = d.Sid()
	}

	members := containers.NewSet[sid.Sid]()
	for _, name := range poolCandidates {
		name = strings.TrimSpace(name)
		s, ok := byName[name]
		if !ok {
			return fmt.Errorf("storagectl: pool: no such device %q in %s", name, env.DevicegraphFilename)
		}
		members.Insert(s)
	}

	p := pool.New(members)
	allocs, err := p.CreatePartitions(g, poolCount, poolSize)
	if err != nil {
		return err
	}

	for i, alloc := range allocs {
		table, err := partitionTableFor(g, alloc.Sid)
		if err != nil {
			return err
		}
		number := nextPartitionNumber(g, table)
		name := fmt.Sprintf("%s%d", table.Name, number)
		region := devices.Region{Start: alloc.Region.Start, Length: alloc.Region.Length}
		if _, err := devices.NewPartition(gen, g, table, name, alloc.Region.Length, region, devices.PartitionData{Number: number}); err != nil {
			return fmt.Errorf("storagectl: pool: materializing allocation %d on %v: %w", i, alloc.Sid, err)
		}
	}

	f, err := os.Create(poolOutFile)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := xmlgraph.Save(f, g); err != nil {
		return err
	}
	textui.Fprintf(cmd.OutOrStdout(), "wrote %d partition(s) to %s\n", len(allocs), poolOutFile)
	return nil
}

// partitionTableFor returns diskSid's PartitionTable child device.
func partitionTableFor(g *devices.Graph, diskSid sid.Sid) (*devices.Device, error) {
	for _, child := range g.Children(diskSid, graph.ViewClassic) {
		if child.Kind.IsPartitionTable() {
			return child, nil
		}
	}
	return nil, fmt.Errorf("storagectl: pool: %v has no partition table", diskSid)
}

// nextPartitionNumber returns one past the highest Number already in use
// on table, so materialized allocations get distinct partition numbers.
func nextPartitionNumber(g *devices.Graph, table *devices.Device) int {
	max := 0
	for _, child := range g.Children(table.Sid(), graph.ViewClassic) {
		if child.Kind != devices.KindPartition {
			continue
		}
		if pd, ok := child.Variant.(*devices.PartitionData); ok && pd.Number > max {
			max = pd.Number
		}
	}
	return max + 1
}
