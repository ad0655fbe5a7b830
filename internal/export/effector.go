package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/vigil/internal/config"
	"github.com/ppiankov/vigil/internal/model"
)

// InfraAction is one actuation record emitted for an approved
// infrastructure task.
type InfraAction struct {
	TsUnix             float64 `json:"ts_unix"`
	TaskID             string  `json:"task_id"`
	EventID            string  `json:"event_id"`
	Action             string  `json:"action"`
	AssetID            string  `json:"asset_id"`
	InfrastructureType string  `json:"infrastructure_type"`
	AssigneeDomain     string  `json:"assignee_domain"`
	Tenant             string  `json:"tenant"`
}

// InfraEffector appends actuation records to a JSONL file with size-based
// rotation, and optionally mirrors them to an HTTP endpoint. The file sink
// is authoritative; HTTP delivery is best-effort.
type InfraEffector struct {
	cfg config.InfraExportConfig
	now func() time.Time
}

// NewInfraEffector builds an effector for the configured sink.
func NewInfraEffector(cfg config.InfraExportConfig) *InfraEffector {
	return &InfraEffector{cfg: cfg, now: time.Now}
}

// ActionForTask converts an approved infrastructure task to its actuation
// record.
func (e *InfraEffector) ActionForTask(task model.TaskRecommendation) InfraAction {
	return InfraAction{
		TsUnix:             float64(e.now().UnixNano()) / float64(time.Second),
		TaskID:             task.ID,
		EventID:            task.EventID,
		Action:             task.Action,
		AssetID:            task.AssetID,
		InfrastructureType: task.InfrastructureType,
		AssigneeDomain:     task.AssigneeDomain,
		Tenant:             task.Tenant,
	}
}

// Emit appends the actions to the configured file, rotating first when the
// file already exceeds rotate_max_bytes. HTTP mirroring errors are
// returned after the file write, which always takes precedence.
func (e *InfraEffector) Emit(ctx context.Context, actions []InfraAction) error {
	if len(actions) == 0 || e.cfg.Path == "" {
		return nil
	}
	if err := e.rotateIfNeeded(); err != nil {
		return err
	}
	if err := e.append(actions); err != nil {
		return err
	}
	if e.cfg.HTTP != nil && e.cfg.HTTP.URL != "" {
		return e.post(ctx, actions)
	}
	return nil
}

func (e *InfraEffector) append(actions []InfraAction) error {
	if err := os.MkdirAll(filepath.Dir(e.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("export: infra dir: %w", err)
	}
	f, err := os.OpenFile(e.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("export: infra open: %w", err)
	}
	defer f.Close()

	for _, action := range actions {
		data, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("export: infra marshal: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("export: infra append: %w", err)
		}
	}
	return nil
}

// rotateIfNeeded renames the current file to <stem>.<unix ts><ext> when it
// is over the size cap, so successive rotations never overwrite each other.
func (e *InfraEffector) rotateIfNeeded() error {
	if e.cfg.RotateMaxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(e.cfg.Path)
	if err != nil {
		return nil
	}
	if info.Size() < e.cfg.RotateMaxBytes {
		return nil
	}
	ext := filepath.Ext(e.cfg.Path)
	rotated := fmt.Sprintf("%s.%d%s", strings.TrimSuffix(e.cfg.Path, ext), e.now().Unix(), ext)
	if err := os.Rename(e.cfg.Path, rotated); err != nil {
		return fmt.Errorf("export: infra rotate: %w", err)
	}
	return nil
}

func (e *InfraEffector) post(ctx context.Context, actions []InfraAction) error {
	httpCfg := e.cfg.HTTP

	// The wire shape is a bare array of action records.
	body, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("export: infra http marshal: %w", err)
	}

	timeout := defaultWebhookTimeout
	if httpCfg.TimeoutSeconds > 0 {
		timeout = time.Duration(httpCfg.TimeoutSeconds) * time.Second
	}
	retries := httpCfg.Retries
	if retries < 1 {
		retries = defaultWebhookRetries
	}
	client := &http.Client{Timeout: timeout}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * backoffUnit):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpCfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("export: infra http request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("export: infra http: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("export: infra http failed after %d attempts: %w", retries, lastErr)
}
