// Package action implements the primitive action model of spec.md §4.F:
// Create/Delete/Modify variants, each able to render itself in four
// tenses and to produce a Command Executor invocation.
//
// Grounded on the teacher's btrfsitem-style "one struct per variant,
// behind a Kind discriminant" pattern (lib/btrfs/btrfsitem), and on
// cmd/btrfs-rec's textui-based progress/message rendering for the four
// tenses (commit.Run hands the continuous-present text to its Message
// callback before an action runs and the simple-past text after it
// finishes; textui.Progress itself only shows an "n/m actions" count).
package action

import (
	"fmt"

	"go.storagectl.dev/storagectl/internal/sid"
)

// Kind discriminates a primitive action variant.
type Kind int

const (
	Create Kind = iota
	Delete

	SetLabel
	SetUUID
	SetQuota
	SetDefaultSubvolume
	SetQgroupLimit
	ResizeShrink
	ResizeGrow
	ReallotExtend
	ReallotReduce
	Mount
	Unmount
	AddToEtcFstab
	RemoveFromEtcFstab
	ActivateFilesystem
	DeactivateFilesystem
	Rename
)

var kindNames = map[Kind]string{
	Create:               "Create",
	Delete:               "Delete",
	SetLabel:             "SetLabel",
	SetUUID:              "SetUuid",
	SetQuota:             "SetQuota",
	SetDefaultSubvolume:  "SetDefaultSubvolume",
	SetQgroupLimit:       "SetQgroupLimit",
	ResizeShrink:         "Resize(shrink)",
	ResizeGrow:           "Resize(grow)",
	ReallotExtend:        "Reallot(extend)",
	ReallotReduce:        "Reallot(reduce)",
	Mount:                "Mount",
	Unmount:              "Unmount",
	AddToEtcFstab:        "AddToEtcFstab",
	RemoveFromEtcFstab:   "RemoveFromEtcFstab",
	ActivateFilesystem:   "ActivateFilesystem",
	DeactivateFilesystem: "DeactivateFilesystem",
	Rename:               "Rename",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Tense selects one of the four renderings spec.md §4.F requires.
type Tense int

const (
	SimplePresent Tense = iota
	ContinuousPresent
	SimplePast
	ContinuousPast
)

// Ref is an opaque handle to an action inside a Builder/Actiongraph; it
// is NOT a sid — several actions may share a sid (e.g. Create(x) and
// SetLabel(x) both carry x's sid).
type Ref int

// Texter renders an action's four tenses and its target description.
// Action is the one implementation for every Kind; the per-Kind verbs
// come from a lookup table, analogous to the teacher's per-ItemType
// decode function table.
type Texter interface {
	Text(tense Tense) string
}

// Commander produces the argv the Command Executor should run to apply
// the action; not every action kind needs a command (Rename of an
// in-memory-only attribute may be a no-op at the OS level).
type Commander interface {
	Command() (argv []string, ok bool)
}

// Action is one primitive mutation in the action graph.
type Action struct {
	Kind Kind

	// Sids holds the affected device(s): exactly one for Create/Delete/
	// Mount/Unmount/etc; two for Reallot (volume group sid, then the
	// device being added/removed).
	Sids []sid.Sid

	// Device is the human name used in rendered text, e.g. "/dev/sda1".
	Device string

	// Attr names the attribute changed, for Modify actions whose text
	// depends on it (e.g. SetLabel's new label, SetQuota's new state).
	Attr string

	// Argv is the literal command to run, already fully resolved; empty
	// for actions with no external-tool side effect.
	Argv []string
}

var (
	_ Texter    = Action{}
	_ Commander = Action{}
)

// Sid returns the action's primary (first) sid.
func (a Action) Sid() sid.Sid {
	if len(a.Sids) == 0 {
		return sid.Invalid
	}
	return a.Sids[0]
}

func (a Action) Command() (argv []string, ok bool) {
	return a.Argv, len(a.Argv) > 0
}

// Text renders the action in one of the four grammatical tenses spec.md
// §4.F requires: {simple-present, continuous-present, simple-past,
// continuous-past}. e.g. Kind=Create, Device="/dev/sda1" renders as
// "create /dev/sda1" / "creating /dev/sda1" / "created /dev/sda1" /
// "having created /dev/sda1".
func (a Action) Text(tense Tense) string {
	verb := verbFor(a.Kind)
	subject := a.subject()
	switch tense {
	case SimplePresent:
		return fmt.Sprintf("%s %s", verb.simplePresent, subject)
	case ContinuousPresent:
		return fmt.Sprintf("%s %s", verb.continuousPresent, subject)
	case SimplePast:
		return fmt.Sprintf("%s %s", verb.simplePast, subject)
	case ContinuousPast:
		return fmt.Sprintf("having %s %s", verb.simplePast, subject)
	default:
		return fmt.Sprintf("%s %s", verb.simplePresent, subject)
	}
}

func (a Action) subject() string {
	switch a.Kind {
	case SetLabel:
		return fmt.Sprintf("label of %s to %q", a.Device, a.Attr)
	case SetUUID:
		return fmt.Sprintf("UUID of %s", a.Device)
	case SetQuota:
		return fmt.Sprintf("quota of %s to %s", a.Device, a.Attr)
	case SetDefaultSubvolume:
		return fmt.Sprintf("%s as the default subvolume", a.Device)
	case SetQgroupLimit:
		return fmt.Sprintf("limit of qgroup %s", a.Device)
	case ReallotExtend, ReallotReduce:
		return fmt.Sprintf("%s %s", a.Device, a.Attr)
	default:
		return a.Device
	}
}

type verbForms struct {
	simplePresent     string
	continuousPresent string
	simplePast        string
}

var verbTable = map[Kind]verbForms{
	Create:               {"create", "creating", "created"},
	Delete:               {"delete", "deleting", "deleted"},
	SetLabel:             {"set", "setting", "set"},
	SetUUID:              {"set", "setting", "set"},
	SetQuota:             {"set", "setting", "set"},
	SetDefaultSubvolume:  {"set", "setting", "set"},
	SetQgroupLimit:       {"set", "setting", "set"},
	ResizeShrink:         {"shrink", "shrinking", "shrunk"},
	ResizeGrow:           {"grow", "growing", "grown"},
	ReallotExtend:        {"add device to", "adding device to", "added device to"},
	ReallotReduce:        {"remove device from", "removing device from", "removed device from"},
	Mount:                {"mount", "mounting", "mounted"},
	Unmount:              {"unmount", "unmounting", "unmounted"},
	AddToEtcFstab:        {"add to /etc/fstab:", "adding to /etc/fstab:", "added to /etc/fstab:"},
	RemoveFromEtcFstab:   {"remove from /etc/fstab:", "removing from /etc/fstab:", "removed from /etc/fstab:"},
	ActivateFilesystem:   {"activate", "activating", "activated"},
	DeactivateFilesystem: {"deactivate", "deactivating", "deactivated"},
	Rename:               {"rename", "renaming", "renamed"},
}

func verbFor(k Kind) verbForms {
	if v, ok := verbTable[k]; ok {
		return v
	}
	return verbForms{"apply", "applying", "applied"}
}
