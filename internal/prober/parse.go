// Package prober implements the Prober of spec.md §4.D: discover the
// live system's block devices, filesystems, and cross-device relations
// by running external tools (lsblk, cryptsetup, btrfs, ...) and
// parsing their output into a device graph, with a SystemInfo cache
// (keyed by argv) backed by golang-lru so a single probe run never
// re-invokes the same command twice.
//
// Grounded on the teacher's lib/textui error-wrapping idiom for
// ParseException-style errors, and on spec.md §8's three literal parser
// testable properties (BtrfsFilesystemShow, LUKS dump, udevadm info),
// reproduced here verbatim against the example inputs the spec gives.
package prober

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// ParseException mirrors spec.md §7's ParseException: external tool
// output did not match the expected shape.
type ParseException struct {
	Tool   string
	Reason string
}

func (e *ParseException) Error() string {
	return fmt.Sprintf("prober: parsing %s output: %s", e.Tool, e.Reason)
}

// BtrfsMember is one `devid ... path ...` line from `btrfs filesystem
// show`.
type BtrfsMember struct {
	ID   uint64
	Name string
}

// BtrfsFilesystemShow is the parsed record spec.md §8 testable property
// 1 names: {uuid, devices: [{id, name}]}.
type BtrfsFilesystemShow struct {
	UUID    string
	Devices []BtrfsMember
}

// ParseBtrfsFilesystemShow parses one filesystem stanza of
// `btrfs filesystem show` output, spec.md §8 testable properties 1-2:
// a line carrying `uuid: ...` (after `Label: ...`), zero or more `devid N ... path /dev/...` lines,
// and a `*** Some devices missing` line that must not produce a device
// record for the devices it replaces. A devid line whose path does not
// begin with "/dev/" raises ParseException.
func ParseBtrfsFilesystemShow(output string) (*BtrfsFilesystemShow, error) {
	rec := &BtrfsFilesystemShow{}
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.Contains(line, "uuid:"):
			rec.UUID = strings.TrimSpace(line[strings.Index(line, "uuid:")+len("uuid:"):])
		case strings.HasPrefix(line, "*** Some devices missing"):
			// Explicitly produces no device record for the missing member(s).
		case strings.HasPrefix(line, "devid"):
			member, err := parseDevidLine(line)
			if err != nil {
				return nil, err
			}
			rec.Devices = append(rec.Devices, member)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("prober: reading btrfs filesystem show output: %w", err)
	}
	return rec, nil
}

// parseDevidLine parses "devid    1 size ... used ... path /dev/mapper/system-test".
func parseDevidLine(line string) (BtrfsMember, error) {
	fields := strings.Fields(line)
	var id uint64
	var path string
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "devid":
			if i+1 >= len(fields) {
				return BtrfsMember{}, &ParseException{Tool: "btrfs filesystem show", Reason: "devid line missing devid value: " + line}
			}
			n, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return BtrfsMember{}, &ParseException{Tool: "btrfs filesystem show", Reason: "devid not a number: " + line}
			}
			id = n
		case "path":
			if i+1 >= len(fields) {
				return BtrfsMember{}, &ParseException{Tool: "btrfs filesystem show", Reason: "path field missing value: " + line}
			}
			path = fields[i+1]
		}
	}
	if !strings.HasPrefix(path, "/dev/") {
		return BtrfsMember{}, &ParseException{Tool: "btrfs filesystem show", Reason: fmt.Sprintf("device path %q does not begin with /dev/", path)}
	}
	return BtrfsMember{ID: id, Name: path}, nil
}

// LuksDump is the parsed record spec.md §8 testable property 3 names:
// {encryption, cipher, key-size, uuid}, plus the LUKS2-only pbkdf/
// integrity fields.
type LuksDump struct {
	Encryption string // "luks1" or "luks2"
	Cipher     string // "aes-xts-plain64"
	KeySize    int    // bytes (MK bits / 8)
	UUID       string
	PBKDF      string // luks2 only
	Integrity  string // luks2 only: "aead" or ""
}

// ParseLuksDump parses `cryptsetup luksDump` output for both the LUKS1
// and LUKS2 record shapes.
func ParseLuksDump(output string) (*LuksDump, error) {
	var version int
	var cipherName, cipherMode, uuid, pbkdf, integrity string
	var mkBits int
	inFirstKeyslot := false
	sawAnyKeyslot := false

	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "Version:"):
			v := strings.TrimSpace(strings.TrimPrefix(trimmed, "Version:"))
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, &ParseException{Tool: "cryptsetup luksDump", Reason: "unparseable Version: " + v}
			}
			version = n
		case strings.HasPrefix(trimmed, "Cipher name:"):
			cipherName = strings.TrimSpace(strings.TrimPrefix(trimmed, "Cipher name:"))
		case strings.HasPrefix(trimmed, "Cipher mode:"):
			cipherMode = strings.TrimSpace(strings.TrimPrefix(trimmed, "Cipher mode:"))
		case strings.HasPrefix(trimmed, "MK bits:"):
			v := strings.TrimSpace(strings.TrimPrefix(trimmed, "MK bits:"))
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, &ParseException{Tool: "cryptsetup luksDump", Reason: "unparseable MK bits: " + v}
			}
			mkBits = n
		case strings.HasPrefix(trimmed, "UUID:"):
			uuid = strings.TrimSpace(strings.TrimPrefix(trimmed, "UUID:"))
		case strings.HasPrefix(trimmed, "Keyslot") || strings.HasPrefix(trimmed, "  0:") || strings.HasPrefix(line, "Keyslots:"):
			// luksDump --dump-json-ish textual output enumerates keyslots in
			// order; the first one encountered is authoritative for PBKDF.
			if !sawAnyKeyslot {
				inFirstKeyslot = true
			}
			sawAnyKeyslot = true
		case inFirstKeyslot && strings.Contains(trimmed, "PBKDF:"):
			pbkdf = strings.TrimSpace(strings.SplitN(trimmed, "PBKDF:", 2)[1])
			inFirstKeyslot = false
		case strings.Contains(trimmed, "Integrity:") || strings.Contains(trimmed, "integrity:"):
			parts := strings.SplitN(trimmed, ":", 2)
			if len(parts) == 2 {
				integrity = strings.TrimSpace(parts[1])
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("prober: reading luksDump output: %w", err)
	}

	if version == 0 {
		return nil, &ParseException{Tool: "cryptsetup luksDump", Reason: "no Version: line found"}
	}

	rec := &LuksDump{
		Cipher:  cipherName + "-" + cipherMode,
		KeySize: mkBits / 8,
		UUID:    uuid,
	}
	switch version {
	case 1:
		rec.Encryption = "luks1"
	case 2:
		rec.Encryption = "luks2"
		rec.PBKDF = pbkdf
		if strings.EqualFold(integrity, "aead") || strings.Contains(strings.ToLower(integrity), "hmac") {
			rec.Integrity = "aead"
		}
	default:
		return nil, &ParseException{Tool: "cryptsetup luksDump", Reason: fmt.Sprintf("unsupported LUKS version %d", version)}
	}
	return rec, nil
}

// BtrfsSubvolumeShow is the parsed record of a `btrfs subvolume show
// <path>` stanza: the subvolume's own UUID, its parent's UUID (absent
// for the top-level subvolume), and its numeric subvolume/generation
// IDs.
type BtrfsSubvolumeShow struct {
	Path        string
	UUID        string
	ParentUUID  string
	SubvolumeID uint64
	Generation  uint64
}

// ParseBtrfsSubvolumeShow parses `btrfs subvolume show` output. Old
// kernels report an absent UUID/Parent UUID as a literal "-" rather
// than omitting the line; both fields tolerate that and report "" to
// callers, the same absent-but-expected handling ParseLuksDump and
// ParseBtrfsFilesystemShow give their own optional fields.
func ParseBtrfsSubvolumeShow(output string) (*BtrfsSubvolumeShow, error) {
	rec := &BtrfsSubvolumeShow{}
	sc := bufio.NewScanner(strings.NewReader(output))
	first := true
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if first {
			first = false
			if trimmed != "" && !strings.Contains(trimmed, ":") {
				rec.Path = trimmed
				continue
			}
		}
		switch {
		case strings.HasPrefix(trimmed, "UUID:"):
			rec.UUID = tolerantField(trimmed, "UUID:")
		case strings.HasPrefix(trimmed, "Parent UUID:"):
			rec.ParentUUID = tolerantField(trimmed, "Parent UUID:")
		case strings.HasPrefix(trimmed, "Subvolume ID:"):
			n, err := strconv.ParseUint(tolerantField(trimmed, "Subvolume ID:"), 10, 64)
			if err != nil {
				return nil, &ParseException{Tool: "btrfs subvolume show", Reason: "unparseable Subvolume ID: " + trimmed}
			}
			rec.SubvolumeID = n
		case strings.HasPrefix(trimmed, "Generation:"):
			n, err := strconv.ParseUint(tolerantField(trimmed, "Generation:"), 10, 64)
			if err != nil {
				return nil, &ParseException{Tool: "btrfs subvolume show", Reason: "unparseable Generation: " + trimmed}
			}
			rec.Generation = n
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("prober: reading btrfs subvolume show output: %w", err)
	}
	return rec, nil
}

// tolerantField strips prefix and whitespace, treating a literal "-"
// (old-kernel output for an absent UUID) the same as an empty value.
func tolerantField(line, prefix string) string {
	v := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if v == "-" {
		return ""
	}
	return v
}

// BtrfsSubvolumeListEntry is one line of `btrfs subvolume list -a -puq
// <mountpoint>` output: a subvolume's id, its parent's id (structural
// tree position, distinct from a Snapshot's origin), path (with any
// leading "<FS_TREE>/" stripped), and its own/parent UUID.
type BtrfsSubvolumeListEntry struct {
	ID         uint64
	ParentID   uint64
	Path       string
	UUID       string
	ParentUUID string
}

// ParseBtrfsSubvolumeList parses `btrfs subvolume list -a -puq` output,
// grounded on original_source/SystemInfo/CmdBtrfs.cc's
// CmdBtrfsSubvolumeList::parse: each line carries the labelled fields
// "ID <n>", "parent <n>", "path <path>", "uuid <uuid>" and
// "parent_uuid <uuid-or-dash>", each located by its label, so their
// order on the line does not matter. A subvolume already deleted between listing and parsing
// reports parent 0 and path "DELETED"; such lines are dropped, matching
// the original's "temporary state" comment. A line missing any of the
// five fields raises ParseException.
func ParseBtrfsSubvolumeList(output string) ([]BtrfsSubvolumeListEntry, error) {
	var out []BtrfsSubvolumeListEntry
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		entry, skip, err := parseSubvolumeListLine(line)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		out = append(out, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("prober: reading btrfs subvolume list output: %w", err)
	}
	return out, nil
}

func parseSubvolumeListLine(line string) (entry BtrfsSubvolumeListEntry, skip bool, err error) {
	id, ok := subvolumeListField(line, "ID ")
	if !ok {
		return entry, false, &ParseException{Tool: "btrfs subvolume list", Reason: "could not find 'ID' in: " + line}
	}
	entry.ID, err = strconv.ParseUint(id, 10, 64)
	if err != nil {
		return entry, false, &ParseException{Tool: "btrfs subvolume list", Reason: "unparseable ID: " + line}
	}

	parent, ok := subvolumeListField(line, " parent ")
	if !ok {
		return entry, false, &ParseException{Tool: "btrfs subvolume list", Reason: "could not find 'parent' in: " + line}
	}
	entry.ParentID, err = strconv.ParseUint(parent, 10, 64)
	if err != nil {
		return entry, false, &ParseException{Tool: "btrfs subvolume list", Reason: "unparseable parent: " + line}
	}
	if entry.ParentID == 0 {
		// Subvolume was deleted between listing and parsing (path reads
		// "DELETED"); original_source/BtrfsImpl.cc treats this as transient.
		return entry, true, nil
	}

	path, ok := subvolumeListField(line, " path ")
	if !ok {
		return entry, false, &ParseException{Tool: "btrfs subvolume list", Reason: "could not find 'path' in: " + line}
	}
	entry.Path = strings.TrimPrefix(path, "<FS_TREE>/")

	uuid, ok := subvolumeListField(line, " uuid ")
	if !ok {
		return entry, false, &ParseException{Tool: "btrfs subvolume list", Reason: "could not find 'uuid' in: " + line}
	}
	entry.UUID = uuid

	parentUUID, ok := subvolumeListField(line, " parent_uuid ")
	if !ok {
		return entry, false, &ParseException{Tool: "btrfs subvolume list", Reason: "could not find 'parent_uuid' in: " + line}
	}
	if parentUUID != "-" {
		entry.ParentUUID = parentUUID
	}
	return entry, false, nil
}

// subvolumeListField extracts the whitespace-delimited token following
// label within line (label must include its own leading/trailing
// delimiter, e.g. "ID " or " path ").
func subvolumeListField(line, label string) (string, bool) {
	idx := strings.Index(line, label)
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len(label):]
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}

// BtrfsQgroupShowEntry is one line of `btrfs qgroup show -rep --raw`
// output: a qgroup's (level, id) address, usage, optional limits, and
// its parent qgroup addresses (the BtrfsQgroupRelation edges the
// qgroup's inter-group hierarchy needs, distinct from a level-0
// qgroup's implicit link to its governing subvolume).
type BtrfsQgroupShowEntry struct {
	Level, ID                   int
	Referenced, Exclusive       uint64
	ReferencedLimit, ExclusiveLimit uint64
	HasReferencedLimit, HasExclusiveLimit bool
	ParentAddrs                 []string
}

// ParseBtrfsQgroupShow parses `btrfs qgroup show -rep --raw` output,
// grounded on original_source/SystemInfo/CmdBtrfs.cc's
// CmdBtrfsQgroupShow::parse: columns qgroupid/referenced/exclusive/
// referenced_limit/exclusive_limit/parents, whitespace-separated, with a
// header line ("qgroupid"/"Qgroupid"/"--------") to skip. A limit column
// reading "none" means unset; the parents column reads "---"/"-" when
// empty or a comma-separated list of "level/id" qgroup addresses.
func ParseBtrfsQgroupShow(output string) ([]BtrfsQgroupShowEntry, error) {
	var out []BtrfsQgroupShowEntry
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		columns := strings.Fields(line)
		if columns[0] == "qgroupid" || columns[0] == "Qgroupid" || strings.HasPrefix(columns[0], "---") {
			continue
		}
		if len(columns) < 6 {
			return nil, &ParseException{Tool: "btrfs qgroup show", Reason: "expected 6 columns, got: " + line}
		}
		entry := BtrfsQgroupShowEntry{}
		var err error
		entry.Level, entry.ID, err = parseQgroupAddr(columns[0])
		if err != nil {
			return nil, err
		}
		if entry.Referenced, err = strconv.ParseUint(columns[1], 10, 64); err != nil {
			return nil, &ParseException{Tool: "btrfs qgroup show", Reason: "unparseable referenced: " + line}
		}
		if entry.Exclusive, err = strconv.ParseUint(columns[2], 10, 64); err != nil {
			return nil, &ParseException{Tool: "btrfs qgroup show", Reason: "unparseable exclusive: " + line}
		}
		if columns[3] != "none" {
			if entry.ReferencedLimit, err = strconv.ParseUint(columns[3], 10, 64); err != nil {
				return nil, &ParseException{Tool: "btrfs qgroup show", Reason: "unparseable referenced_limit: " + line}
			}
			entry.HasReferencedLimit = true
		}
		if columns[4] != "none" {
			if entry.ExclusiveLimit, err = strconv.ParseUint(columns[4], 10, 64); err != nil {
				return nil, &ParseException{Tool: "btrfs qgroup show", Reason: "unparseable exclusive_limit: " + line}
			}
			entry.HasExclusiveLimit = true
		}
		if columns[5] != "---" && columns[5] != "-" {
			entry.ParentAddrs = strings.Split(columns[5], ",")
		}
		out = append(out, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("prober: reading btrfs qgroup show output: %w", err)
	}
	return out, nil
}

func parseQgroupAddr(s string) (level, id int, err error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0, &ParseException{Tool: "btrfs qgroup show", Reason: "malformed qgroupid: " + s}
	}
	level64, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, &ParseException{Tool: "btrfs qgroup show", Reason: "malformed qgroupid level: " + s}
	}
	id64, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, &ParseException{Tool: "btrfs qgroup show", Reason: "malformed qgroupid id: " + s}
	}
	return level64, id64, nil
}

// UdevadmInfo is the parsed record spec.md §8 testable property 4
// names: DEVPATH/DEVNAME/DEVTYPE plus the four S: link families.
type UdevadmInfo struct {
	DevPath string
	DevName string
	DevType string

	ByPath  []string
	ByID    []string
	ByLabel []string
	ByUUID  []string
}

// ParseUdevadmInfo parses `udevadm info /dev/sda`-style output: E:
// lines for DEVPATH/DEVNAME/DEVTYPE, S: lines for symlinks, classified
// into by-path/by-id/by-label/by-uuid by the link's directory prefix.
func ParseUdevadmInfo(output string) (*UdevadmInfo, error) {
	rec := &UdevadmInfo{}
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "E: DEVPATH="):
			rec.DevPath = strings.TrimPrefix(line, "E: DEVPATH=")
		case strings.HasPrefix(line, "E: DEVNAME="):
			rec.DevName = strings.TrimPrefix(line, "E: DEVNAME=")
		case strings.HasPrefix(line, "E: DEVTYPE="):
			rec.DevType = strings.TrimPrefix(line, "E: DEVTYPE=")
		case strings.HasPrefix(line, "S: "):
			link := strings.TrimPrefix(line, "S: ")
			switch {
			case strings.Contains(link, "by-path/"):
				rec.ByPath = append(rec.ByPath, link)
			case strings.Contains(link, "by-id/"):
				rec.ByID = append(rec.ByID, link)
			case strings.Contains(link, "by-label/"):
				rec.ByLabel = append(rec.ByLabel, link)
			case strings.Contains(link, "by-uuid/"):
				rec.ByUUID = append(rec.ByUUID, link)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("prober: reading udevadm info output: %w", err)
	}
	if rec.DevName == "" {
		return nil, &ParseException{Tool: "udevadm info", Reason: "no E: DEVNAME= line found"}
	}
	return rec, nil
}
