package cmdexec

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"git.lukeshu.com/go/lowmemjson"
)

// MockupMode selects how a Mockup Executor behaves, spec.md's Mockup
// record/playback abstraction.
type MockupMode int

const (
	// MockupNone runs commands for real (Mockup wraps Direct transparently).
	MockupNone MockupMode = iota
	// MockupRecord runs commands for real and also appends each
	// invocation's argv/output to the mockup file.
	MockupRecord
	// MockupPlayback never runs a real command; it looks up argv in the
	// mockup file and returns the recorded Result, or errors if the argv
	// was never recorded.
	MockupPlayback
)

// mockupEntry is one recorded invocation, serialized with lowmemjson the
// way Set[T] is elsewhere in this module (SPEC_FULL.md's lowmemjson
// wiring), so the mockup file is readable debug output rather than an
// opaque binary blob.
type mockupEntry struct {
	Argv     []string `json:"argv"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	ExitCode int      `json:"exit_code"`
	used     bool
}

// Mockup wraps an underlying real Executor (for Record mode) and a set
// of recorded entries keyed by their exact argv, implementing Occam's
// Razor detection: after a run, UnusedEntries lists every recorded
// invocation that Playback never consulted, a signal the caller's
// action plan diverged from the one the mockup was recorded against.
type Mockup struct {
	mode     MockupMode
	real     Executor
	mu       sync.Mutex
	entries  []*mockupEntry
	byArgv   map[string]*mockupEntry
}

func argvKey(argv []string) string {
	return fmt.Sprintf("%q", argv)
}

// NewMockup constructs a Mockup in the given mode with no entries; a
// playback Mockup holding previously recorded entries comes from
// LoadMockupFile instead. For MockupRecord, real must be a working
// Direct (or another Executor) to actually run commands against.
func NewMockup(mode MockupMode, real Executor) *Mockup {
	return &Mockup{mode: mode, real: real, byArgv: make(map[string]*mockupEntry)}
}

func (m *Mockup) Run(ctx context.Context, argv ...string) (Result, error) {
	key := argvKey(argv)

	switch m.mode {
	case MockupPlayback:
		m.mu.Lock()
		entry, ok := m.byArgv[key]
		m.mu.Unlock()
		if !ok {
			return Result{}, fmt.Errorf("cmdexec: mockup playback: no recorded entry for %v", argv)
		}
		entry.used = true
		var err error
		if entry.ExitCode != 0 {
			err = fmt.Errorf("cmdexec: mockup playback: %v exited %d: %s", argv, entry.ExitCode, entry.Stderr)
		}
		return Result{Argv: argv, Stdout: entry.Stdout, Stderr: entry.Stderr, ExitCode: entry.ExitCode}, err

	case MockupRecord:
		res, err := m.real.Run(ctx, argv...)
		entry := &mockupEntry{Argv: argv, Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode, used: true}
		m.mu.Lock()
		m.entries = append(m.entries, entry)
		m.byArgv[key] = entry
		m.mu.Unlock()
		return res, err

	default: // MockupNone
		return m.real.Run(ctx, argv...)
	}
}

// Mode reports which mode this Mockup is running in, so callers can
// skip a real-filesystem side effect (e.g. EnsureMounted actually
// mounting something) when played back against canned fixtures.
func (m *Mockup) Mode() MockupMode { return m.mode }

// UnusedEntries returns the recorded entries Playback never consulted
// (the "Occam's Razor" check: a mockup file bigger than the plan it's
// standing in for means the plan changed and the mockup is stale).
func (m *Mockup) UnusedEntries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var unused []string
	for _, e := range m.entries {
		if !e.used {
			unused = append(unused, argvKey(e.Argv))
		}
	}
	return unused
}

// mockupRecord is the JSON-visible shape of a mockupEntry (the "used"
// bookkeeping field is runtime-only and never persisted).
type mockupRecord struct {
	Argv     []string `json:"argv"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	ExitCode int      `json:"exit_code"`
}

// SaveFile serializes every recorded entry for later Playback.
func (m *Mockup) SaveFile() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plain := make([]mockupRecord, len(m.entries))
	for i, e := range m.entries {
		plain[i] = mockupRecord{Argv: e.Argv, Stdout: e.Stdout, Stderr: e.Stderr, ExitCode: e.ExitCode}
	}
	var buf bytes.Buffer
	if err := lowmemjson.NewEncoder(&buf).Encode(plain); err != nil {
		return nil, fmt.Errorf("cmdexec: encoding mockup file: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadMockupFile parses a previously-saved mockup file into a Mockup
// ready for MockupPlayback.
func LoadMockupFile(data []byte) (*Mockup, error) {
	var plain []mockupRecord
	if err := lowmemjson.NewDecoder(strings.NewReader(string(data))).Decode(&plain); err != nil {
		return nil, fmt.Errorf("cmdexec: parsing mockup file: %w", err)
	}
	m := NewMockup(MockupPlayback, nil)
	for _, rec := range plain {
		e := &mockupEntry{Argv: rec.Argv, Stdout: rec.Stdout, Stderr: rec.Stderr, ExitCode: rec.ExitCode}
		m.entries = append(m.entries, e)
		m.byArgv[argvKey(e.Argv)] = e
	}
	return m, nil
}
