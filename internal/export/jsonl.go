package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ppiankov/vigil/internal/model"
)

// AppendTasksJSONL appends one JSON line per task to path, creating parent
// directories as needed. The feed is append-only across runs.
func AppendTasksJSONL(path string, tasks []model.TaskRecommendation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: create jsonl dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("export: open %s: %w", path, err)
	}
	defer f.Close()

	for _, task := range tasks {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("export: marshal task %s: %w", task.ID, err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("export: append %s: %w", path, err)
		}
	}
	return nil
}
