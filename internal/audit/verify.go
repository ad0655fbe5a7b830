package audit

import (
	"bufio"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/vigil/internal/hashutil"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify reads a JSONL audit log and validates the full chain: each entry's
// seq must equal its 1-based position, its stored hash must match the
// recomputed hash of its canonical serialization, its prev_hash must equal
// the previous entry's hash, and — when secret is non-empty and the entry
// carries a sig — the HMAC must verify.
//
// A missing file verifies as an empty, valid chain.
func Verify(path, secret string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return VerifyResult{Valid: true}
		}
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	prevHash := ""

	for scanner.Scan() {
		lineNum++

		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return VerifyResult{Error: fmt.Sprintf("parse error: %v", err), ErrorLine: lineNum}
		}

		if entry.Seq != lineNum {
			return VerifyResult{
				Error:     fmt.Sprintf("seq mismatch: entry has seq %d at position %d", entry.Seq, lineNum),
				ErrorLine: lineNum,
			}
		}

		canonical, err := hashutil.CanonicalJSON(entry.preimage())
		if err != nil {
			return VerifyResult{Error: fmt.Sprintf("serialize: %v", err), ErrorLine: lineNum}
		}
		if computed := hashutil.SHA256Hex(canonical); computed != entry.Hash {
			return VerifyResult{
				Error:     fmt.Sprintf("hash mismatch: computed %s, stored %s", computed, entry.Hash),
				ErrorLine: lineNum,
			}
		}

		if lineNum == 1 {
			if entry.PrevHash != nil {
				return VerifyResult{
					Error:     "first entry must not carry a prev_hash",
					ErrorLine: 1,
				}
			}
		} else {
			if entry.PrevHash == nil || *entry.PrevHash != prevHash {
				return VerifyResult{
					Error:     fmt.Sprintf("prev_hash mismatch: expected %s", prevHash),
					ErrorLine: lineNum,
				}
			}
		}

		if secret != "" && entry.Sig != "" {
			expected := signHex([]byte(secret), canonical)
			if !hmac.Equal([]byte(expected), []byte(entry.Sig)) {
				return VerifyResult{Error: "signature mismatch", ErrorLine: lineNum}
			}
		}

		prevHash = entry.Hash
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Lines: lineNum}
}
