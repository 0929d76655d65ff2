package devices

import (
	"strconv"
	"strings"
)

// copyVariant deep-copies a Variant payload so Graph.Clone never lets
// two graphs alias the same Variant value. Every Variant in this
// package is a flat value struct (no embedded pointers/slices that
// outlive the copy except where noted), so a one-level struct copy per
// concrete type is sufficient; add a case here whenever a new Kind's
// data struct is introduced.
func copyVariant(e Emitter) Emitter {
	switch v := e.(type) {
	case *DiskData:
		cp := *v
		return &cp
	case *StrayBlkData:
		cp := *v
		return &cp
	case *MultipathData:
		cp := *v
		return &cp
	case *DmRaidData:
		cp := *v
		return &cp
	case *BcacheData:
		cp := *v
		return &cp
	case *BcacheCsetData:
		cp := *v
		return &cp
	case *PartitionTableData:
		cp := *v
		return &cp
	case *PartitionData:
		cp := *v
		return &cp
	case *MdData:
		cp := *v
		return &cp
	case *MdContainerData:
		cp := *v
		return &cp
	case *LvmPvData:
		cp := *v
		return &cp
	case *LvmVgData:
		cp := *v
		return &cp
	case *LvmLvData:
		cp := *v
		return &cp
	case *LuksData:
		cp := *v
		return &cp
	case *BitlockerV2Data:
		cp := *v
		return &cp
	case *FilesystemData:
		cp := *v
		if v.MkfsExtraArgs != nil {
			cp.MkfsExtraArgs = append([]string(nil), v.MkfsExtraArgs...)
		}
		return &cp
	case *MountPointData:
		cp := *v
		return &cp
	case *BtrfsData:
		cp := *v
		return &cp
	case *BtrfsSubvolumeData:
		cp := *v
		return &cp
	case *BtrfsQgroupData:
		cp := *v
		return &cp
	default:
		// Unknown Variant type: return as-is, since every concrete type
		// in this package is registered above and a new Kind added
		// without a case here is a programming error caught by tests,
		// not something to panic on in production.
		return e
	}
}

// mkfsExtraArgsSep joins/splits FilesystemData.MkfsExtraArgs for the
// property bag below; a control character rather than a space or comma
// since mkfs flags may themselves contain either.
const mkfsExtraArgsSep = "\x1f"

// VariantProps flattens d.Variant's kind-specific fields into a string
// property bag (spec.md §3 Identifiers and names: "type discriminant;
// property bags") so a persistence layer can round-trip them alongside
// the common attributes (Name/Size/UUID/Label/Region) it already
// carries natively. Zero-valued fields are omitted, matching the
// omitempty convention the rest of the on-disk schema uses. The inverse
// of ReconstructVariant.
func VariantProps(d *Device) map[string]string {
	props := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			props[k] = v
		}
	}
	setBool := func(k string, v bool) {
		if v {
			props[k] = "true"
		}
	}
	setInt := func(k string, v int) {
		if v != 0 {
			props[k] = strconv.Itoa(v)
		}
	}
	setUint := func(k string, v uint64) {
		if v != 0 {
			props[k] = strconv.FormatUint(v, 10)
		}
	}

	switch v := d.Variant.(type) {
	case *DiskData:
		set("transport", v.Transport)
		setBool("removable", v.Removable)
		setBool("rotational", v.Rotational)
	case *MultipathData:
		set("vendor-id", v.VendorID)
		set("product-id", v.ProductID)
	case *DmRaidData:
		set("raid-type", v.RaidType)
	case *BcacheData:
		set("caching-uuid", v.CachingUUID)
	case *PartitionTableData:
		setInt("max-primary", v.MaxPrimary)
	case *PartitionData:
		set("partition-type", v.PartitionType)
		setInt("number", v.Number)
	case *MdData:
		set("level", v.Level)
		set("metadata-version", v.MetadataVersion)
	case *MdContainerData:
		set("metadata-version", v.MetadataVersion)
	case *LvmVgData:
		setUint("extent-size", v.ExtentSize)
	case *LvmLvData:
		set("lv-type", v.LvType)
		setInt("stripes", v.Stripes)
	case *LuksData:
		setInt("version", v.Version)
		set("cipher", v.Cipher)
		setInt("key-size", v.KeySize)
		set("pbkdf", v.PBKDF)
		set("integrity", v.Integrity)
		set("mapped-name", v.MappedName)
	case *FilesystemData:
		if len(v.MkfsExtraArgs) > 0 {
			props["mkfs-extra-args"] = strings.Join(v.MkfsExtraArgs, mkfsExtraArgsSep)
		}
	case *MountPointData:
		setBool("persistent", v.Persistent)
		set("mount-options", v.MountOptions)
		setBool("needs-activate", v.NeedsActivate)
	case *BtrfsData:
		set("raid-level-data", v.RaidLevelData)
		set("raid-level-meta", v.RaidLevelMeta)
		setBool("quota-enabled", v.QuotaEnabled)
	case *BtrfsSubvolumeData:
		setUint("subvol-id", v.SubvolID)
		setBool("is-default", v.IsDefault)
		setBool("no-cow", v.NoCOW)
	case *BtrfsQgroupData:
		setInt("level", v.Level)
		setUint("id", v.ID)
		setUint("referenced-limit", v.ReferencedLimit)
		setUint("exclusive-limit", v.ExclusiveLimit)
		// StrayBlkData, BcacheCsetData, LvmPvData, BitlockerV2Data carry no
		// fields beyond the common attributes; no case needed.
	}
	return props
}

// ReconstructVariant rebuilds the concrete Variant for Kind k from a
// property bag a persistence layer recovered (VariantProps's inverse),
// so a loaded Device is immediately usable by the Action Graph Builder
// (Emitter is never nil for a Kind this package knows how to construct).
func ReconstructVariant(k Kind, props map[string]string) Emitter {
	geti := func(key string) int {
		n, _ := strconv.Atoi(props[key])
		return n
	}
	getu := func(key string) uint64 {
		n, _ := strconv.ParseUint(props[key], 10, 64)
		return n
	}
	getb := func(key string) bool {
		return props[key] == "true"
	}

	switch k {
	case KindDisk, KindDasd:
		return &DiskData{Transport: props["transport"], Removable: getb("removable"), Rotational: getb("rotational")}
	case KindStrayBlkDevice:
		return &StrayBlkData{}
	case KindMultipath:
		return &MultipathData{VendorID: props["vendor-id"], ProductID: props["product-id"]}
	case KindDmRaid:
		return &DmRaidData{RaidType: props["raid-type"]}
	case KindBcache:
		return &BcacheData{CachingUUID: props["caching-uuid"]}
	case KindBcacheCset:
		return &BcacheCsetData{}
	case KindPartitionTableMsdos, KindPartitionTableGpt, KindPartitionTableDasd, KindPartitionTableImplicit:
		return &PartitionTableData{MaxPrimary: geti("max-primary")}
	case KindPartition:
		return &PartitionData{PartitionType: props["partition-type"], Number: geti("number")}
	case KindMd:
		return &MdData{Level: props["level"], MetadataVersion: props["metadata-version"]}
	case KindMdContainer:
		return &MdContainerData{MetadataVersion: props["metadata-version"]}
	case KindLvmPv:
		return &LvmPvData{}
	case KindLvmVg:
		return &LvmVgData{ExtentSize: getu("extent-size")}
	case KindLvmLv:
		return &LvmLvData{LvType: props["lv-type"], Stripes: geti("stripes")}
	case KindLuks:
		return &LuksData{
			Version:    geti("version"),
			Cipher:     props["cipher"],
			KeySize:    geti("key-size"),
			PBKDF:      props["pbkdf"],
			Integrity:  props["integrity"],
			MappedName: props["mapped-name"],
		}
	case KindBitlockerV2:
		return &BitlockerV2Data{}
	case KindMountPoint:
		return &MountPointData{Persistent: getb("persistent"), MountOptions: props["mount-options"], NeedsActivate: getb("needs-activate")}
	case KindFilesystemBtrfs:
		return &BtrfsData{RaidLevelData: props["raid-level-data"], RaidLevelMeta: props["raid-level-meta"], QuotaEnabled: getb("quota-enabled")}
	case KindBtrfsSubvolume:
		return &BtrfsSubvolumeData{SubvolID: getu("subvol-id"), IsDefault: getb("is-default"), NoCOW: getb("no-cow")}
	case KindBtrfsQgroup:
		return &BtrfsQgroupData{Level: geti("level"), ID: getu("id"), ReferencedLimit: getu("referenced-limit"), ExclusiveLimit: getu("exclusive-limit")}
	default:
		if k.IsFilesystem() {
			var extra []string
			if s := props["mkfs-extra-args"]; s != "" {
				extra = strings.Split(s, mkfsExtraArgsSep)
			}
			return &FilesystemData{MkfsExtraArgs: extra}
		}
		return nil
	}
}
