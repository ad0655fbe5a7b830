// Package ingest loads sensor readings from scenario files and NDJSON
// feeds. The core makes no assumption about where readings come from; any
// adapter that yields SensorReading records can feed the pipeline.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/vigil/internal/model"
)

type scenarioFile struct {
	SensorReadings []model.SensorReading `yaml:"sensor_readings"`
}

// LoadScenario reads a YAML scenario with a top-level sensor_readings list.
func LoadScenario(path string) ([]model.SensorReading, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: read scenario: %w", err)
	}
	var sc scenarioFile
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("ingest: parse scenario %s: %w", path, err)
	}
	return sc.SensorReadings, nil
}

// TailFile reads up to maxItems readings from an NDJSON file, one JSON
// object per line. Malformed lines are skipped and returned as notes so
// the caller can audit them; they never abort the read. maxItems <= 0
// means unbounded.
func TailFile(path string, maxItems int) ([]model.SensorReading, []error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, []error{fmt.Errorf("ingest: open feed: %w", err)}
	}
	defer f.Close()

	var readings []model.SensorReading
	var skipped []error

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var reading model.SensorReading
		if err := json.Unmarshal(line, &reading); err != nil {
			skipped = append(skipped, fmt.Errorf("ingest: line %d: %w", lineNum, err))
			continue
		}
		readings = append(readings, reading)
		if maxItems > 0 && len(readings) >= maxItems {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		skipped = append(skipped, fmt.Errorf("ingest: scan feed: %w", err))
	}
	return readings, skipped
}
