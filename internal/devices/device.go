package devices

import (
	"fmt"
	"reflect"

	"github.com/davecgh/go-spew/spew"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
)

// Region is a device's position on its backing storage: start offset,
// length, and the block size both are expressed in, spec.md §3.
type Region struct {
	Start     uint64
	Length    uint64
	BlockSize uint32
}

// End returns the first byte past the region.
func (r Region) End() uint64 { return r.Start + r.Length }

// ChainBuilder is the narrow interface a device's action emitters need
// from the Action Graph Builder (component G); defined here, in the
// lower component C, so devices never imports actiongraph. actiongraph.Builder
// implements this interface implicitly.
type ChainBuilder interface {
	// AddAction appends a new primitive action and returns its Ref.
	AddAction(a action.Action) action.Ref
	// Chain records that `after` must not run before `before` completes,
	// i.e. an intra-chain ordering edge (spec.md §4.G step 2).
	Chain(before, after action.Ref)
}

// Emitter is implemented by exactly one type per device Kind; it is the
// "action emitter" hook of spec.md §4.C.3, generalizing the original's
// per-subclass add_create_actions/add_modify_actions/add_delete_actions.
// The graph argument is the graph d (and, for AddDeleteActions, its
// still-present incident holders) can be looked up in: rhs for
// AddCreateActions/AddModifyActions, lhs for AddDeleteActions — it lets
// an emitter enumerate sibling structure (a Partition's table, an LvmVg's
// member Pvs, a multi-device Btrfs's FilesystemUser members) to build a
// real command argv instead of a bare device name.
type Emitter interface {
	AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref
	AddModifyActions(b ChainBuilder, g *Graph, d, lhs *Device) []action.Ref
	AddDeleteActions(b ChainBuilder, g *Graph, d *Device) []action.Ref
}

// Device is the flattened sum type standing in for the original's
// Device -> BlkDevice -> Partitionable -> ... inheritance tree (spec.md
// §9 Design Notes). Common attributes live directly on Device; anything
// variant-specific lives behind Variant, reached with a type assertion
// on Variant or a switch on Kind.
type Device struct {
	id   sid.Sid
	Kind Kind

	Name   string // device node path, or subvolume path, or mountpoint path
	Size   uint64 // bytes
	Region Region
	UUID   string
	Label  string

	Variant Emitter
}

var _ graph.Device = (*Device)(nil)

func (d *Device) Sid() sid.Sid { return d.id }

func (d *Device) String() string {
	return fmt.Sprintf("%v{sid=%v name=%q}", d.Kind, d.id, d.Name)
}

// Equal is structural equality over persistent attributes, the hook the
// Action Graph Builder uses to classify a device as unchanged vs needing
// a modify chain (spec.md §4.C "Equality is structural...").
func (d *Device) Equal(o *Device) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.Kind == o.Kind &&
		d.Name == o.Name &&
		d.Size == o.Size &&
		d.Region == o.Region &&
		d.UUID == o.UUID &&
		d.Label == o.Label &&
		reflect.DeepEqual(d.Variant, o.Variant)
}

// LogDiff enumerates the attributes that differ between d and o, rendering
// variant payload differences with go-spew (spec.md §4.C "log_diff").
func (d *Device) LogDiff(o *Device) []string {
	var diffs []string
	add := func(field string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			diffs = append(diffs, fmt.Sprintf("%s: %v -> %v", field, a, b))
		}
	}
	add("Name", d.Name, o.Name)
	add("Size", d.Size, o.Size)
	add("Region", d.Region, o.Region)
	add("UUID", d.UUID, o.UUID)
	add("Label", d.Label, o.Label)
	if !reflect.DeepEqual(d.Variant, o.Variant) {
		diffs = append(diffs, fmt.Sprintf("Variant:\n%s-->\n%s", spew.Sdump(d.Variant), spew.Sdump(o.Variant)))
	}
	return diffs
}

func newDevice(gen *sid.Generator, k Kind, name string, variant Emitter) *Device {
	return &Device{
		id:      gen.Next(),
		Kind:    k,
		Name:    name,
		Variant: variant,
	}
}

// Reconstruct rebuilds a Device with a previously-allocated sid and a
// real Variant rebuilt from its persisted kind-specific property bag
// (ReconstructVariant), for persistence layers (xmlgraph) that load a
// graph back in from disk. Callers must not mix a Reconstruct'd device
// with a live sid.Generator that hasn't observed s first.
func Reconstruct(s sid.Sid, k Kind, name string, size uint64, region Region, uuid, label string, props map[string]string) *Device {
	return &Device{
		id:      s,
		Kind:    k,
		Name:    name,
		Size:    size,
		Region:  region,
		UUID:    uuid,
		Label:   label,
		Variant: ReconstructVariant(k, props),
	}
}

// Graph is the concrete device/holder graph type every devicegraph name
// (probed/system/staging) is built from.
type Graph = graph.Graph[*Device, *Holder]

// NewGraph returns an empty device graph.
func NewGraph() *Graph {
	return graph.New[*Device, *Holder]()
}

// CopyDevice performs the type-dispatched deep copy Graph.Clone needs;
// since every Variant payload in this package is a plain value struct
// (no pointers/slices shared between instances except where explicitly
// copied), a shallow struct copy of Device plus a copy of the Variant
// value is sufficient.
func CopyDevice(d *Device) *Device {
	cp := *d
	if d.Variant != nil {
		cp.Variant = copyVariant(d.Variant)
	}
	return &cp
}

// CopyHolder deep-copies a holder edge.
func CopyHolder(h *Holder) *Holder {
	cp := *h
	return &cp
}
