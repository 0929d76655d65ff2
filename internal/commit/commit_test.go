package commit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/actiongraph"
	"go.storagectl.dev/storagectl/internal/cmdexec"
	"go.storagectl.dev/storagectl/internal/sid"
)

type recordingExecutor struct {
	ran    [][]string
	failOn string
}

func (r *recordingExecutor) Run(ctx context.Context, argv ...string) (cmdexec.Result, error) {
	r.ran = append(r.ran, argv)
	if len(argv) > 0 && argv[0] == r.failOn {
		return cmdexec.Result{}, fmt.Errorf("simulated failure running %v", argv)
	}
	return cmdexec.Result{Argv: argv}, nil
}

type countingCallbacks struct {
	errors    int
	keepGoing bool
}

func (c *countingCallbacks) Message(a action.Action, tense action.Tense) {}
func (c *countingCallbacks) Error(a action.Action, err error) bool {
	c.errors++
	return c.keepGoing
}

func simpleGraph(argvs ...[]string) *actiongraph.Graph {
	g := &actiongraph.Graph{}
	for i, argv := range argvs {
		g.Actions = append(g.Actions, action.Action{
			Kind:   action.Create,
			Sids:   []sid.Sid{sid.Sid(i + 1)},
			Device: fmt.Sprintf("dev%d", i),
			Argv:   argv,
		})
		g.Order = append(g.Order, action.Ref(i))
	}
	return g
}

func TestRunAppliesEveryActionOnSuccess(t *testing.T) {
	exec := &recordingExecutor{}
	g := simpleGraph([]string{"echo", "a"}, []string{"echo", "b"})
	cb := &countingCallbacks{}

	results := Run(context.Background(), exec, g, cb)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.False(t, r.Skipped)
	}
	assert.Equal(t, 0, cb.errors)
	assert.Len(t, exec.ran, 2)
}

func TestRunAbortsRemainingOnError(t *testing.T) {
	exec := &recordingExecutor{failOn: "false"}
	g := simpleGraph([]string{"true"}, []string{"false"}, []string{"true"})
	cb := &countingCallbacks{}

	results := Run(context.Background(), exec, g, cb)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.True(t, results[2].Skipped)
	assert.Equal(t, 1, cb.errors)
}

func TestRunSkipAndContinueSkipsOnlyDependents(t *testing.T) {
	exec := &recordingExecutor{failOn: "false"}
	cb := &countingCallbacks{keepGoing: true}

	g := &actiongraph.Graph{
		Actions: []action.Action{
			{Kind: action.Create, Sids: []sid.Sid{1}, Device: "dev0", Argv: []string{"true"}},
			{Kind: action.Create, Sids: []sid.Sid{2}, Device: "dev1", Argv: []string{"false"}},
			{Kind: action.SetLabel, Sids: []sid.Sid{2}, Device: "dev1", Argv: []string{"true"}},
			{Kind: action.Create, Sids: []sid.Sid{3}, Device: "dev2", Argv: []string{"true"}},
		},
		Order: []action.Ref{0, 1, 2, 3},
	}

	results := Run(context.Background(), exec, g, cb)
	require.Len(t, results, 4)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.True(t, results[2].Skipped, "action sharing the failed action's sid must be skipped")
	assert.False(t, results[3].Skipped, "independent subgraph must still run")
	assert.NoError(t, results[3].Err)
	assert.Equal(t, 1, cb.errors)
}

func TestRunSkipsNoCommandActions(t *testing.T) {
	exec := &recordingExecutor{}
	g := &actiongraph.Graph{
		Actions: []action.Action{{Kind: action.SetUUID, Sids: []sid.Sid{1}, Device: "dev0"}},
		Order:   []action.Ref{0},
	}
	cb := &countingCallbacks{}

	results := Run(context.Background(), exec, g, cb)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Empty(t, exec.ran)
}
