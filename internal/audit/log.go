// Package audit implements the append-only, hash-chained, optionally
// HMAC-signed JSONL journal that every pipeline stage reports into.
package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/vigil/internal/hashutil"
)

// ErrSigningRequired is returned by Write when signing is mandated but no
// secret is configured. This is a fatal misconfiguration, not a soft skip.
var ErrSigningRequired = fmt.Errorf("audit: signing required but no secret configured")

// Option configures a Log at open time.
type Option func(*Log)

// WithSecret enables HMAC-SHA256 signing of every entry.
func WithSecret(secret string) Option {
	return func(l *Log) {
		if secret != "" {
			l.secret = []byte(secret)
		}
	}
}

// WithRequireSigning makes Write fail when no secret is configured.
func WithRequireSigning() Option {
	return func(l *Log) { l.requireSigning = true }
}

// WithActor sets the actor recorded on every entry.
func WithActor(actor string) Option {
	return func(l *Log) { l.actor = actor }
}

// WithVerifyOnOpen walks the whole chain at open time and fails Open if the
// chain is broken. Use as a startup integrity gate.
func WithVerifyOnOpen() Option {
	return func(l *Log) { l.verifyOnOpen = true }
}

// Log is an append-only JSONL audit log with SHA-256 hash chaining.
// Single-writer: a mutex serializes appends, and the chain invariant
// (each entry's prev_hash equals the prior entry's hash) is strictly linear.
type Log struct {
	path           string
	file           *os.File
	secret         []byte
	requireSigning bool
	verifyOnOpen   bool
	actor          string

	mu       sync.Mutex
	seq      int
	lastHash string

	now func() time.Time
}

// Open opens (or creates) an audit log file for appending.
//
// If the file already exists, only the last line is read to recover the
// chain tail (seq and last hash) — cheap resume. A corrupt or unreadable
// tail degrades to a fresh chain rather than failing Open; tampering is
// still caught by verification, which walks the whole file.
func Open(path string, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	l := &Log{
		path:  path,
		actor: DefaultActor,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.seq, l.lastHash = recoverTail(path)

	if l.verifyOnOpen {
		if result := Verify(path, string(l.secret)); !result.Valid && result.Error != "" {
			return nil, fmt.Errorf("audit: chain verification failed at line %d: %s", result.ErrorLine, result.Error)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	l.file = file
	return l, nil
}

// recoverTail reads only the last line of an existing log to resume the
// chain. Any read or parse failure resets to a fresh chain.
func recoverTail(path string) (seq int, lastHash string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return 0, ""
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lastLine []byte
	for scanner.Scan() {
		lastLine = append(lastLine[:0], scanner.Bytes()...)
	}
	if scanner.Err() != nil || len(lastLine) == 0 {
		return 0, ""
	}

	var entry Entry
	if err := json.Unmarshal(lastLine, &entry); err != nil || entry.Seq < 1 || entry.Hash == "" {
		return 0, ""
	}
	return entry.Seq, entry.Hash
}

// Write appends one record and syncs it to disk. No batching, no async
// flush — each append must see the prior append's hash.
func (l *Log) Write(kind string, payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.requireSigning && len(l.secret) == 0 {
		return ErrSigningRequired
	}
	if payload == nil {
		payload = map[string]any{}
	}

	entry := Entry{
		TsUnix:  float64(l.now().UnixNano()) / 1e9,
		Kind:    kind,
		Payload: payload,
		Actor:   l.actor,
		Seq:     l.seq + 1,
		HashAlg: HashAlg,
		SigAlg:  SigAlg,
	}
	if l.lastHash != "" {
		prev := l.lastHash
		entry.PrevHash = &prev
	}

	canonical, err := hashutil.CanonicalJSON(entry.preimage())
	if err != nil {
		return fmt.Errorf("audit: serialize entry: %w", err)
	}
	entry.Hash = hashutil.SHA256Hex(canonical)
	if len(l.secret) > 0 {
		entry.Sig = signHex(l.secret, canonical)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.seq = entry.Seq
	l.lastHash = entry.Hash
	return nil
}

// Path returns the file path this log appends to.
func (l *Log) Path() string {
	return l.path
}

// VerifyChain re-walks the whole file and returns an error describing the
// first broken link, or nil when the chain is intact.
func (l *Log) VerifyChain() error {
	result := Verify(l.path, string(l.secret))
	if result.Valid {
		return nil
	}
	return fmt.Errorf("audit: chain invalid at line %d: %s", result.ErrorLine, result.Error)
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// signHex returns the hex HMAC-SHA256 of data under key.
func signHex(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
