// Package commit implements the Commit Engine of spec.md §4.H: apply an
// actiongraph.Graph's actions in topological order, one at a time
// (the engine is explicitly single-threaded — spec.md §5 Concurrency &
// Resource Model), reporting progress and honoring the
// skip-vs-abort semantics of CommitCallbacks.
//
// Grounded on the teacher's lib/textui.Progress for commit progress
// reporting and on dlib/dgroup's context-cancellation idiom for
// abort-on-error (cmd/btrfs-rec's run loop).
package commit

import (
	"context"
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/actiongraph"
	"go.storagectl.dev/storagectl/internal/cmdexec"
	"go.storagectl.dev/storagectl/internal/sid"
	"go.storagectl.dev/storagectl/internal/textui"
)

// Callbacks mirrors spec.md §4.H's CommitCallbacks: message reports
// progress text for an action about to run or having run; error is
// asked whether to continue after an action fails. Returning false from
// Error aborts the remaining plan; returning true skips the remaining
// actions that share the failed action's primary sid and runs every
// other action, including ones ordered after it through a cross-device
// dependency edge.
type Callbacks interface {
	Message(a action.Action, tense action.Tense)
	Error(a action.Action, err error) (skipAndContinue bool)
}

// Stats is the textui.Progress payload for a commit run.
type Stats struct {
	Done, Total int
}

func (s Stats) String() string { return fmt.Sprintf("%d/%d actions", s.Done, s.Total) }

// Result records the outcome of running one action.
type Result struct {
	Ref   action.Ref
	Err   error
	Skipped bool
}

// Run executes g's actions in g.Order, invoking exec for each action's
// Command (when it has one) and cb for progress/error reporting. It
// returns one Result per action in g.Order, always fully populated
// (never short) so callers can inspect exactly what happened to every
// action regardless of abort/skip outcome.
func Run(ctx context.Context, exec cmdexec.Executor, g *actiongraph.Graph, cb Callbacks) []Result {
	results := make([]Result, len(g.Order))
	skipped := make(map[action.Ref]bool)

	dependents := computeDependents(g)

	progress := textui.NewProgress[Stats](dlog.WithField(ctx, "THREAD", "commit"), dlog.LogLevelInfo, time.Second)
	defer progress.Done()

	for i, ref := range g.Order {
		a := g.Actions[ref]

		if skipped[ref] {
			results[i] = Result{Ref: ref, Skipped: true}
			progress.Set(Stats{Done: i + 1, Total: len(g.Order)})
			continue
		}

		cb.Message(a, action.ContinuousPresent)
		err := apply(ctx, exec, a)
		if err != nil {
			cb.Message(a, action.SimplePast)
			dlog.Errorf(ctx, "commit: %s: %v", a.Text(action.SimplePresent), err)
			results[i] = Result{Ref: ref, Err: err}
			if !cb.Error(a, err) {
				for j := i + 1; j < len(g.Order); j++ {
					results[j] = Result{Ref: g.Order[j], Skipped: true}
				}
				progress.Set(Stats{Done: len(g.Order), Total: len(g.Order)})
				return results
			}
			for _, dep := range dependents[ref] {
				skipped[dep] = true
			}
		} else {
			cb.Message(a, action.SimplePast)
			results[i] = Result{Ref: ref}
		}
		progress.Set(Stats{Done: i + 1, Total: len(g.Order)})
	}
	return results
}

// apply runs the action's Command (if any) through exec; actions with
// no external-tool side effect (Commander.Command returning ok=false)
// are treated as already satisfied.
func apply(ctx context.Context, exec cmdexec.Executor, a action.Action) error {
	argv, ok := a.Command()
	if !ok {
		return nil
	}
	_, err := exec.Run(ctx, argv...)
	return err
}

// computeDependents maps each action to the other actions that share
// its primary sid. It does not see the dependency edges
// actiongraph.addDependencies wired (only their effect on g.Order), so
// an action on another device that depends on a failed one is not in
// its list.
func computeDependents(g *actiongraph.Graph) map[action.Ref][]action.Ref {
	bySid := make(map[sid.Sid][]action.Ref)
	for _, ref := range g.Order {
		s := g.Actions[ref].Sid()
		bySid[s] = append(bySid[s], ref)
	}
	out := make(map[action.Ref][]action.Ref)
	for ref, a := range g.Actions {
		for _, dep := range bySid[a.Sid()] {
			if int(dep) != ref {
				out[action.Ref(ref)] = append(out[action.Ref(ref)], dep)
			}
		}
	}
	return out
}
