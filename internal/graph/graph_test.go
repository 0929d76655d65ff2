package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.storagectl.dev/storagectl/internal/sid"
)

type testNode struct {
	id   sid.Sid
	name string
}

func (n *testNode) Sid() sid.Sid { return n.id }

type testEdge struct {
	id       sid.Sid
	src, dst sid.Sid
	kind     HolderKind
}

func (e *testEdge) Sid() sid.Sid     { return e.id }
func (e *testEdge) Source() sid.Sid  { return e.src }
func (e *testEdge) Target() sid.Sid  { return e.dst }
func (e *testEdge) Kind() HolderKind { return e.kind }

// buildChain builds a -> b -> c, plus a Snapshot edge a -> c, exercising
// View filtering and the transitive-closure walks.
func buildChain(t *testing.T) (*Graph[*testNode, *testEdge], sid.Sid, sid.Sid, sid.Sid) {
	t.Helper()
	gen := sid.NewGenerator()
	g := New[*testNode, *testEdge]()

	a, b, c := gen.Next(), gen.Next(), gen.Next()
	g.AddDevice(&testNode{id: a, name: "a"})
	g.AddDevice(&testNode{id: b, name: "b"})
	g.AddDevice(&testNode{id: c, name: "c"})

	require.NoError(t, g.AddHolder(&testEdge{id: gen.Next(), src: a, dst: b, kind: HolderSubdevice}))
	require.NoError(t, g.AddHolder(&testEdge{id: gen.Next(), src: b, dst: c, kind: HolderSubdevice}))
	require.NoError(t, g.AddHolder(&testEdge{id: gen.Next(), src: a, dst: c, kind: HolderSnapshot}))
	return g, a, b, c
}

func TestChildrenParents(t *testing.T) {
	g, a, b, c := buildChain(t)

	children := g.Children(a, ViewAll)
	require.Len(t, children, 2)

	classicChildren := g.Children(a, ViewClassic)
	require.Len(t, classicChildren, 1)
	assert.Equal(t, b, classicChildren[0].Sid())

	parents := g.Parents(c, ViewAll)
	require.Len(t, parents, 2)

	classicParents := g.Parents(c, ViewClassic)
	require.Len(t, classicParents, 1)
	assert.Equal(t, b, classicParents[0].Sid())
}

func TestDescendantsAncestors(t *testing.T) {
	g, a, _, c := buildChain(t)

	desc := g.Descendants(a, ViewClassic)
	require.Len(t, desc, 2)

	anc := g.Ancestors(c, ViewClassic)
	require.Len(t, anc, 2)
}

func TestViewRemoveExcludesUser(t *testing.T) {
	gen := sid.NewGenerator()
	g := New[*testNode, *testEdge]()
	a, b := gen.Next(), gen.Next()
	g.AddDevice(&testNode{id: a})
	g.AddDevice(&testNode{id: b})
	require.NoError(t, g.AddHolder(&testEdge{id: gen.Next(), src: a, dst: b, kind: HolderUser}))

	assert.Len(t, g.Children(a, ViewAll), 1)
	assert.Empty(t, g.Children(a, ViewRemove))
}

func TestAddHolderRejectsDuplicateKind(t *testing.T) {
	gen := sid.NewGenerator()
	g := New[*testNode, *testEdge]()
	a, b := gen.Next(), gen.Next()
	g.AddDevice(&testNode{id: a})
	g.AddDevice(&testNode{id: b})
	require.NoError(t, g.AddHolder(&testEdge{id: gen.Next(), src: a, dst: b, kind: HolderSubdevice}))

	err := g.AddHolder(&testEdge{id: gen.Next(), src: a, dst: b, kind: HolderSubdevice})
	assert.ErrorIs(t, err, ErrHolderAlreadyExists)
}

func TestRemoveDeviceCascadesHolders(t *testing.T) {
	g, a, b, _ := buildChain(t)
	require.NoError(t, g.RemoveDevice(b))

	assert.False(t, g.HasDevice(b))
	assert.Empty(t, g.HoldersOut(a, ViewClassic), "the a->b Subdevice holder must be removed with b")
}

func TestCloneIsDeepCopy(t *testing.T) {
	g, a, _, _ := buildChain(t)

	clone := g.Clone(
		func(n *testNode) *testNode { cp := *n; return &cp },
		func(e *testEdge) *testEdge { cp := *e; return &cp },
	)

	require.Equal(t, g.NumDevices(), clone.NumDevices())
	require.Equal(t, g.NumHolders(), clone.NumHolders())

	node, err := clone.Device(a)
	require.NoError(t, err)
	node.name = "mutated"

	orig, err := g.Device(a)
	require.NoError(t, err)
	assert.Equal(t, "a", orig.name, "mutating the clone's node must not affect the original")
}

func TestFilterByType(t *testing.T) {
	g, _, _, _ := buildChain(t)
	names := FilterByType[*testNode, *testEdge, string](g, func(n *testNode) (string, bool) {
		if n.name == "" {
			return "", false
		}
		return n.name, true
	})
	assert.ElementsMatch(t, []string{"a", "b", "c"}, names)
}
