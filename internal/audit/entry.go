package audit

// Hash and signature algorithm identifiers carried in every entry so a
// consumer can verify without out-of-band knowledge.
const (
	HashAlg = "sha256"
	SigAlg  = "hmac-sha256"
)

// DefaultActor is recorded when no actor is configured on the log.
const DefaultActor = "pipeline"

// Entry is one line in the hash-chained JSONL audit log.
//
// The hash covers the canonical (key-sorted) JSON serialization of the
// entry with the hash and sig fields removed. The sig, when present, is an
// HMAC-SHA256 over those same bytes. PrevHash is nil only for seq 1.
type Entry struct {
	TsUnix   float64        `json:"ts_unix"`
	Kind     string         `json:"kind"`
	Payload  map[string]any `json:"payload"`
	Actor    string         `json:"actor"`
	Seq      int            `json:"seq"`
	PrevHash *string        `json:"prev_hash"`
	HashAlg  string         `json:"hash_alg"`
	SigAlg   string         `json:"sig_alg"`
	Hash     string         `json:"hash"`
	Sig      string         `json:"sig,omitempty"`
}

// preimage returns the map form of the entry with hash and sig removed,
// ready for canonical serialization. Map keys marshal sorted, which is what
// makes the hash reproducible by any JSON-capable consumer.
func (e Entry) preimage() map[string]any {
	var prev any
	if e.PrevHash != nil {
		prev = *e.PrevHash
	}
	return map[string]any{
		"ts_unix":   e.TsUnix,
		"kind":      e.Kind,
		"payload":   e.Payload,
		"actor":     e.Actor,
		"seq":       e.Seq,
		"prev_hash": prev,
		"hash_alg":  e.HashAlg,
		"sig_alg":   e.SigAlg,
	}
}
