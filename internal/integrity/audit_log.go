package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"

	"github.com/l3ocifer/ironclaw/internal/ironerr"
)

// AuditEntry is one hash-chained record in the integrity audit log. Chaining
// PrevHash over the previous entry's canonical encoding makes the log
// tamper-evident: rewriting an older entry changes every hash after it.
type AuditEntry struct {
	Seq      int    `json:"seq"`
	PrevHash string `json:"prev_entry_sha256"`
	Change   Change `json:"change"`
	Hash     string `json:"hash"`
}

// AuditLog is an append-only, hash-chained record of integrity violations
// and the monitor's response to each. It is durable: every Append is
// flushed to the backing file before returning.
type AuditLog struct {
	mu      sync.Mutex
	path    string
	entries []AuditEntry
}

// OpenAuditLog loads an existing audit log from path, or starts a fresh one
// if the file does not yet exist.
func OpenAuditLog(path string) (*AuditLog, error) {
	log := &AuditLog{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return log, nil
		}
		return nil, ironerr.Wrap(ironerr.KindIO, "integrity.OpenAuditLog", err)
	}
	if len(data) == 0 {
		return log, nil
	}
	if err := json.Unmarshal(data, &log.entries); err != nil {
		return nil, ironerr.Wrap(ironerr.KindIO, "integrity.OpenAuditLog", err)
	}
	return log, nil
}

// Append adds change as the next hash-chained entry and persists the log.
func (l *AuditLog) Append(change Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}
	entry := AuditEntry{
		Seq:      len(l.entries),
		PrevHash: prev,
		Change:   change,
	}
	entry.Hash = entry.computeHash()
	l.entries = append(l.entries, entry)
	return l.flushLocked()
}

// Entries returns a copy of every entry recorded so far, in append order.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Verify walks the chain and reports whether every entry's stored hash
// matches its recomputed hash and links to the prior entry's hash.
func (l *AuditLog) Verify() (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := ""
	for i, e := range l.entries {
		if e.PrevHash != prev {
			return false, i
		}
		if e.computeHash() != e.Hash {
			return false, i
		}
		prev = e.Hash
	}
	return true, -1
}

func (e AuditEntry) computeHash() string {
	payload, _ := json.Marshal(struct {
		Seq      int    `json:"seq"`
		PrevHash string `json:"prev_entry_sha256"`
		Change   Change `json:"change"`
	}{Seq: e.Seq, PrevHash: e.PrevHash, Change: e.Change})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (l *AuditLog) flushLocked() error {
	if l.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return ironerr.Wrap(ironerr.KindIO, "integrity.AuditLog.flush", err)
	}
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return ironerr.Wrap(ironerr.KindIO, "integrity.AuditLog.flush", err)
	}
	return nil
}
