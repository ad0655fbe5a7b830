// Package fusion aggregates readings into entity tracks. Track output is
// informational: the rules engine consumes the readings unchanged, and
// downstream consumers may pick up tracks from the run result.
package fusion

import (
	"fmt"

	"github.com/ppiankov/vigil/internal/model"
)

// Result carries the readings through plus the track and domain aggregates.
type Result struct {
	Readings     []model.SensorReading
	Tracks       map[string]model.EntityTrack
	DomainCounts map[string]int
}

// Fuse groups readings by details.track_id, falling back to a synthetic
// anon_{domain}_{sensor} id when the reading carries no track. A track's
// last_seen_ms is the max ts_ms across its readings.
func Fuse(readings []model.SensorReading) Result {
	tracks := make(map[string]model.EntityTrack)
	domains := make(map[string]int)

	for _, r := range readings {
		domains[r.Domain]++

		trackID := model.DetailString(r.Details, "track_id")
		if trackID == "" {
			trackID = fmt.Sprintf("anon_%s_%s", r.Domain, r.SensorID)
		}

		track, ok := tracks[trackID]
		if !ok {
			track = model.EntityTrack{
				ID:         trackID,
				Domain:     r.Domain,
				Label:      r.SourceType,
				Attributes: map[string]any{"sensor_id": r.SensorID},
			}
		}
		if r.TsMs > track.LastSeenMs {
			track.LastSeenMs = r.TsMs
		}
		tracks[trackID] = track
	}

	return Result{Readings: readings, Tracks: tracks, DomainCounts: domains}
}
