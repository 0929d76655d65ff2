// Package xmlgraph implements the on-disk device-graph persistence of
// spec.md §4 (External Interfaces): save/load a devices.Graph to/from
// XML, round-tripping every sid and attribute. The Mockup file is not
// handled here; it is JSON, in internal/cmdexec.
//
// This is the one component of the module built on the standard
// library's encoding/xml rather than a third-party codec: no XML
// library appears anywhere in the retrieved example pack (lowmemjson,
// the one serialization dependency the teacher carries, is a JSON
// encoder used elsewhere in this module for Set[T] and the Command
// Executor's Mockup file; it has no XML mode), and libstorage-ng's own
// on-disk format is XML, so inventing a JSON-only persistence layer
// here would silently drop the one wire format spec.md actually
// requires. See DESIGN.md.
package xmlgraph

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"

	"go.storagectl.dev/storagectl/internal/devices"
	"go.storagectl.dev/storagectl/internal/graph"
	"go.storagectl.dev/storagectl/internal/sid"
)

type xmlDevice struct {
	XMLName xml.Name `xml:"device"`
	Sid     uint64   `xml:"sid,attr"`
	Kind    int      `xml:"kind,attr"`
	Name    string   `xml:"name,attr"`
	Size    uint64   `xml:"size,attr"`
	UUID    string   `xml:"uuid,attr,omitempty"`
	Label   string   `xml:"label,attr,omitempty"`

	RegionStart     uint64 `xml:"region-start,attr,omitempty"`
	RegionLength    uint64 `xml:"region-length,attr,omitempty"`
	RegionBlockSize uint32 `xml:"region-block-size,attr,omitempty"`

	// Props is the Variant-specific property bag (spec.md §3 "type
	// discriminant; property bags"), so a loaded device carries a real
	// Variant instead of nil — see devices.VariantProps/ReconstructVariant.
	Props []xmlProp `xml:"props>prop,omitempty"`
}

type xmlProp struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

type xmlHolder struct {
	XMLName xml.Name `xml:"holder"`
	Sid     uint64   `xml:"sid,attr"`
	Kind    int      `xml:"kind,attr"`
	Source  uint64   `xml:"source,attr"`
	Target  uint64   `xml:"target,attr"`

	Devid   uint64 `xml:"devid,attr,omitempty"`
	Journal bool   `xml:"journal,attr,omitempty"`
	MdSpare bool   `xml:"md-spare,attr,omitempty"`
}

type xmlDocument struct {
	XMLName xml.Name    `xml:"devicegraph"`
	Devices []xmlDevice `xml:"devices>device"`
	Holders []xmlHolder `xml:"holders>holder"`
}

// Save renders g as XML, writing to w.
func Save(w io.Writer, g *devices.Graph) error {
	doc := xmlDocument{}
	for _, d := range g.Devices() {
		xd := xmlDevice{
			Sid:             uint64(d.Sid()),
			Kind:            int(d.Kind),
			Name:            d.Name,
			Size:            d.Size,
			UUID:            d.UUID,
			Label:           d.Label,
			RegionStart:     d.Region.Start,
			RegionLength:    d.Region.Length,
			RegionBlockSize: d.Region.BlockSize,
		}
		props := devices.VariantProps(d)
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			xd.Props = append(xd.Props, xmlProp{Key: k, Value: props[k]})
		}
		doc.Devices = append(doc.Devices, xd)
	}
	for _, h := range g.Holders() {
		xh := xmlHolder{
			Sid:    uint64(h.Sid()),
			Kind:   int(h.Kind()),
			Source: uint64(h.Source()),
			Target: uint64(h.Target()),
		}
		if h.Kind() == graph.HolderFilesystemUser {
			xh.Devid = h.Devid
			xh.Journal = h.Journal
		}
		if h.Kind() == graph.HolderMdUser {
			xh.MdSpare = h.MdSpare
		}
		doc.Holders = append(doc.Holders, xh)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("xmlgraph: encoding devicegraph: %w", err)
	}
	return nil
}

// Load parses an XML devicegraph document produced by Save back into a
// devices.Graph, advancing gen past every sid it encounters so
// subsequently allocated sids never collide with loaded ones (spec.md
// §8 "Save/load round-trip"). Each DeviceRecord's Props carries the
// Variant-specific property bag Save wrote (devices.VariantProps); pass
// it to devices.Reconstruct, which rebuilds a real, non-nil Variant via
// devices.ReconstructVariant — a loaded device is therefore immediately
// usable by the Action Graph Builder, not just by structural-equality/
// logging callers.
func Load(r io.Reader, gen *sid.Generator) ([]DeviceRecord, []HolderRecord, error) {
	var doc xmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("xmlgraph: decoding devicegraph: %w", err)
	}

	var devRecs []DeviceRecord
	var holdRecs []HolderRecord

	for _, xd := range doc.Devices {
		s := sid.Sid(xd.Sid)
		gen.Observe(s)
		props := make(map[string]string, len(xd.Props))
		for _, p := range xd.Props {
			props[p.Key] = p.Value
		}
		devRecs = append(devRecs, DeviceRecord{
			Sid:   s,
			Kind:  devices.Kind(xd.Kind),
			Name:  xd.Name,
			Size:  xd.Size,
			UUID:  xd.UUID,
			Label: xd.Label,
			Region: devices.Region{
				Start:     xd.RegionStart,
				Length:    xd.RegionLength,
				BlockSize: xd.RegionBlockSize,
			},
			Props: props,
		})
	}
	for _, xh := range doc.Holders {
		s := sid.Sid(xh.Sid)
		gen.Observe(s)
		holdRecs = append(holdRecs, HolderRecord{
			Sid:     s,
			Kind:    graph.HolderKind(xh.Kind),
			Source:  sid.Sid(xh.Source),
			Target:  sid.Sid(xh.Target),
			Devid:   xh.Devid,
			Journal: xh.Journal,
			MdSpare: xh.MdSpare,
		})
	}
	return devRecs, holdRecs, nil
}

// DeviceRecord is the flat attribute set Load recovers for one device,
// including its Variant-specific property bag (Props); pass Props to
// devices.Reconstruct to rebuild a real Variant (see Load's doc comment).
type DeviceRecord struct {
	Sid    sid.Sid
	Kind   devices.Kind
	Name   string
	Size   uint64
	UUID   string
	Label  string
	Region devices.Region
	Props  map[string]string
}

// HolderRecord is the flat attribute set Load recovers for one holder.
type HolderRecord struct {
	Sid     sid.Sid
	Kind    graph.HolderKind
	Source  sid.Sid
	Target  sid.Sid
	Devid   uint64
	Journal bool
	MdSpare bool
}
