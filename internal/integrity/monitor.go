// Package integrity watches the agent's workspace for unexpected file
// changes between scans, using a SHA-256 baseline and a hash-chained,
// tamper-evident audit log of every detected change.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// Mode determines how the monitor reacts to a detected change.
type Mode string

const (
	// ModeRestore reverts the file to its baseline content.
	ModeRestore Mode = "restore"
	// ModeAlert records the change and reports it without reverting.
	ModeAlert Mode = "alert"
	// ModeIgnore records the change in the audit log only.
	ModeIgnore Mode = "ignore"
)

// ChangeKind categorizes a detected deviation from the baseline.
type ChangeKind string

const (
	ChangeModified ChangeKind = "modified"
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is a single detected deviation between a scan and the baseline.
type Change struct {
	Path     string     `json:"path"`
	Kind     ChangeKind `json:"kind"`
	OldHash  string     `json:"old_hash,omitempty"`
	NewHash  string     `json:"new_hash,omitempty"`
	Restored bool       `json:"restored"`
}

// Baseline is the content-hash snapshot the monitor compares scans against.
type Baseline map[string]string // path -> sha256 hex

// Monitor tracks a workspace root against a baseline and emits a
// hash-chained audit log of every change it detects.
type Monitor struct {
	mu       sync.Mutex
	root     string
	mode     Mode
	ignore   []string
	baseline Baseline
	log      *AuditLog
	content  map[string][]byte // retained for ModeRestore
}

// New constructs a Monitor rooted at root with the given mode and ignore
// globs (matched against paths relative to root).
func New(root string, mode Mode, ignoreGlobs []string, log *AuditLog) *Monitor {
	return &Monitor{
		root:    root,
		mode:    mode,
		ignore:  ignoreGlobs,
		log:     log,
		content: make(map[string][]byte),
	}
}

// Baseline computes and stores a fresh baseline snapshot of the workspace.
func (m *Monitor) Baseline(ctx context.Context) error {
	baseline, content, err := m.snapshot()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = baseline
	if m.mode == ModeRestore {
		m.content = content
	}
	return nil
}

// persistedBaseline is the durable-state encoding of a baseline: the
// IntegrityBaseline hash map plus, for ModeRestore monitors, the retained
// known-good content needed to restore a tampered file without waiting for
// a fresh Baseline() call.
type persistedBaseline struct {
	Baseline Baseline          `json:"baseline"`
	Content  map[string]string `json:"content,omitempty"` // path -> base64
}

// SaveBaseline writes the current baseline (and, in ModeRestore, the
// retained known-good content) to path as durable state beside the
// workspace.
func (m *Monitor) SaveBaseline(path string) error {
	m.mu.Lock()
	pb := persistedBaseline{Baseline: m.baseline}
	if m.mode == ModeRestore {
		pb.Content = make(map[string]string, len(m.content))
		for p, data := range m.content {
			pb.Content[p] = base64.StdEncoding.EncodeToString(data)
		}
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(pb, "", "  ")
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "integrity.SaveBaseline", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ironerr.Wrap(ironerr.KindIO, "integrity.SaveBaseline", err)
	}
	return nil
}

// LoadBaseline reads a baseline previously written by SaveBaseline, making
// it current without re-walking the workspace.
func (m *Monitor) LoadBaseline(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "integrity.LoadBaseline", err)
	}
	var pb persistedBaseline
	if err := json.Unmarshal(data, &pb); err != nil {
		return ironerr.Wrap(ironerr.KindIO, "integrity.LoadBaseline", err)
	}
	content := make(map[string][]byte, len(pb.Content))
	for p, enc := range pb.Content {
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return ironerr.Wrap(ironerr.KindIO, "integrity.LoadBaseline", err)
		}
		content[p] = raw
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = pb.Baseline
	if m.mode == ModeRestore {
		m.content = content
	}
	return nil
}

// Scan compares the current workspace state to the baseline, applies the
// monitor's mode to any detected changes, and appends each change to the
// audit log. It returns the changes found on this scan.
func (m *Monitor) Scan(ctx context.Context) ([]Change, error) {
	current, content, err := m.snapshot()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	baseline := m.baseline
	mode := m.mode
	m.mu.Unlock()

	if baseline == nil {
		return nil, ironerr.New(ironerr.KindConflict, "integrity.Scan", "no baseline established")
	}

	var changes []Change
	for path, hash := range current {
		if baseHash, ok := baseline[path]; ok {
			if baseHash != hash {
				changes = append(changes, Change{Path: path, Kind: ChangeModified, OldHash: baseHash, NewHash: hash})
			}
		} else {
			changes = append(changes, Change{Path: path, Kind: ChangeAdded, NewHash: hash})
		}
	}
	for path, hash := range baseline {
		if _, ok := current[path]; !ok {
			changes = append(changes, Change{Path: path, Kind: ChangeRemoved, OldHash: hash})
		}
	}

	for i := range changes {
		if mode == ModeRestore && changes[i].Kind != ChangeRemoved {
			if err := m.restore(changes[i].Path); err == nil {
				changes[i].Restored = true
			}
		} else if mode == ModeRestore && changes[i].Kind == ChangeRemoved {
			if err := m.restore(changes[i].Path); err == nil {
				changes[i].Restored = true
			}
		}
		if m.log != nil {
			if err := m.log.Append(changes[i]); err != nil {
				return changes, err
			}
		}
	}

	if mode == ModeRestore {
		// Refresh retained content only from files that still match the
		// baseline, so a tampered file's bytes never replace the known-good
		// copy that later restores write back.
		m.mu.Lock()
		for path, data := range content {
			if current[path] == baseline[path] {
				m.content[path] = data
			}
		}
		m.mu.Unlock()
	}

	return changes, nil
}

func (m *Monitor) restore(relPath string) error {
	m.mu.Lock()
	original, ok := m.content[relPath]
	m.mu.Unlock()
	if !ok {
		return ironerr.New(ironerr.KindNotFound, "integrity.restore", "no retained content for "+relPath)
	}
	full := filepath.Join(m.root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ironerr.Wrap(ironerr.KindIO, "integrity.restore", err)
	}
	if err := os.WriteFile(full, original, 0o644); err != nil {
		return ironerr.Wrap(ironerr.KindIO, "integrity.restore", err)
	}
	return nil
}

func (m *Monitor) snapshot() (Baseline, map[string][]byte, error) {
	baseline := make(Baseline)
	content := make(map[string][]byte)

	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		if m.isIgnored(rel) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		baseline[rel] = hex.EncodeToString(sum[:])
		if m.mode == ModeRestore {
			content[rel] = data
		}
		return nil
	})
	if err != nil {
		return nil, nil, ironerr.Wrap(ironerr.KindIO, "integrity.snapshot", err)
	}
	return baseline, content, nil
}

func (m *Monitor) isIgnored(relPath string) bool {
	for _, glob := range m.ignore {
		if ok, _ := filepath.Match(glob, relPath); ok {
			return true
		}
	}
	return false
}
