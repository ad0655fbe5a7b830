package autonomy

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ppiankov/vigil/internal/model"
)

// Command statuses.
const (
	StatusQueued   = "queued"
	StatusSent     = "sent"
	StatusDeferred = "deferred"
)

// CommandQueue is an in-memory platform command queue with best-effort
// JSONL persistence, so degraded-comms runs can be replayed offline.
// Persistence failures are swallowed: the queue keeps working in memory.
type CommandQueue struct {
	queue       []model.PlatformCommand
	persistPath string
}

// NewCommandQueue builds a queue. With a non-empty persistPath, previously
// persisted commands are reloaded; an unreadable file starts empty.
func NewCommandQueue(persistPath string) *CommandQueue {
	q := &CommandQueue{persistPath: persistPath}
	if persistPath != "" {
		q.load()
	}
	return q
}

// Enqueue appends the command and persists it when a path is configured.
func (q *CommandQueue) Enqueue(cmd model.PlatformCommand) {
	q.queue = append(q.queue, cmd)
	q.persist(cmd)
}

// Len reports the number of commands waiting in the queue.
func (q *CommandQueue) Len() int { return len(q.queue) }

// AttemptSend tries every queued command once against the given link
// states. Commands whose target link is available are marked sent and
// removed; the rest are marked deferred and stay queued for a later
// attempt.
func (q *CommandQueue) AttemptSend(linkStates map[string]model.LinkState) (sent, deferred []model.PlatformCommand) {
	var remaining []model.PlatformCommand
	for _, cmd := range q.queue {
		link, ok := linkStates[cmd.Target]
		if ok && link.Available {
			cmd.Status = StatusSent
			sent = append(sent, cmd)
			continue
		}
		cmd.Status = StatusDeferred
		deferred = append(deferred, cmd)
		remaining = append(remaining, cmd)
	}
	q.queue = remaining
	return sent, deferred
}

func (q *CommandQueue) persist(cmd model.PlatformCommand) {
	if q.persistPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(q.persistPath), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(q.persistPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	data, err := json.Marshal(cmd)
	if err != nil {
		return
	}
	f.Write(append(data, '\n'))
}

func (q *CommandQueue) load() {
	f, err := os.Open(q.persistPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd model.PlatformCommand
		if err := json.Unmarshal(line, &cmd); err != nil {
			continue
		}
		q.queue = append(q.queue, cmd)
	}
}
