package devices

import (
	"fmt"

	"go.storagectl.dev/storagectl/internal/action"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
)

// LuksData backs KindLuks: a dm-crypt/LUKS encryption layer, sitting as
// a User on top of its single backing block device. Fields mirror the
// fields spec.md §8's "LUKS dump parse" testable property requires the
// Prober to extract: luksDump in prober.go is the producer of these.
type LuksData struct {
	Version    int    // 1 or 2
	Cipher     string // "aes-xts-plain64"
	KeySize    int    // bytes
	PBKDF      string // luks2 only: "argon2i", "argon2id", "pbkdf2"
	Integrity  string // luks2 only: "aead" or ""
	MappedName string // dm-crypt mapped device name, e.g. "luks-<uuid>"
}

var _ Emitter = (*LuksData)(nil)

// backingDeviceName returns the single User-edge parent d sits on top of.
func backingDeviceName(g *Graph, d *Device) string {
	if g == nil {
		return ""
	}
	for _, parent := range g.Parents(d.Sid(), graph.ViewClassic) {
		return parent.Name
	}
	return ""
}

func (l *LuksData) AddCreateActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	backing := backingDeviceName(g, d)
	argv := []string{"cryptsetup"}
	if l.Version == 2 {
		argv = append(argv, "luksFormat", "--type", "luks2")
	} else {
		argv = append(argv, "luksFormat", "--type", "luks1")
	}
	if l.Cipher != "" {
		argv = append(argv, "--cipher", l.Cipher)
	}
	if l.KeySize > 0 {
		argv = append(argv, "--key-size", fmt.Sprint(l.KeySize*8))
	}
	if l.PBKDF != "" {
		argv = append(argv, "--pbkdf", l.PBKDF)
	}
	argv = append(argv, backing)
	refs := []action.Ref{b.AddAction(action.Action{
		Kind:   action.Create,
		Sids:   []sid.Sid{d.Sid()},
		Device: d.Name,
		Argv:   argv,
	})}
	last := refs[0]
	if l.MappedName != "" {
		open := b.AddAction(action.Action{
			Kind:   action.ActivateFilesystem,
			Sids:   []sid.Sid{d.Sid()},
			Device: d.Name,
			Argv:   []string{"cryptsetup", "luksOpen", backing, l.MappedName},
		})
		b.Chain(last, open)
		refs = append(refs, open)
	}
	return refs
}

func (l *LuksData) AddModifyActions(b ChainBuilder, g *Graph, d, lhs *Device) []action.Ref {
	return defaultModifyActions(b, d, lhs)
}

func (l *LuksData) AddDeleteActions(b ChainBuilder, g *Graph, d *Device) []action.Ref {
	var refs []action.Ref
	var last action.Ref
	chain := func(a action.Action) {
		r := b.AddAction(a)
		if len(refs) > 0 {
			b.Chain(last, r)
		}
		last = r
		refs = append(refs, r)
	}
	if l.MappedName != "" {
		chain(action.Action{Kind: action.DeactivateFilesystem, Sids: []sid.Sid{d.Sid()}, Device: d.Name, Argv: []string{"cryptsetup", "luksClose", l.MappedName}})
	}
	chain(action.Action{Kind: action.Delete, Sids: []sid.Sid{d.Sid()}, Device: d.Name})
	return refs
}

func NewLuks(gen *sid.Generator, g *Graph, name string, sizeBytes uint64, data LuksData) *Device {
	d := newDevice(gen, KindLuks, name, &data)
	d.Size = sizeBytes
	g.AddDevice(d)
	return d
}

// BitlockerV2Data backs KindBitlockerV2: a BitLocker-encrypted volume,
// read-only discovered (the engine never creates new BitLocker volumes).
type BitlockerV2Data struct {
	basicEmitter
}

func NewBitlockerV2(gen *sid.Generator, g *Graph, name string, sizeBytes uint64) *Device {
	d := newDevice(gen, KindBitlockerV2, name, &BitlockerV2Data{})
	d.Size = sizeBytes
	g.AddDevice(d)
	return d
}
