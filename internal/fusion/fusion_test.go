package fusion

import (
	"testing"

	"github.com/ppiankov/vigil/internal/model"
)

func reading(id, sensor, domain string, ts int64, details map[string]any) model.SensorReading {
	return model.SensorReading{
		ID:         id,
		SensorID:   sensor,
		Domain:     domain,
		SourceType: "radar",
		TsMs:       ts,
		Details:    details,
	}
}

func TestFuseGroupsByTrackID(t *testing.T) {
	readings := []model.SensorReading{
		reading("r1", "radar_1", "air", 100, map[string]any{"track_id": "trk_9"}),
		reading("r2", "radar_1", "air", 300, map[string]any{"track_id": "trk_9"}),
		reading("r3", "radar_2", "air", 200, map[string]any{"track_id": "trk_9"}),
	}
	res := Fuse(readings)
	if len(res.Tracks) != 1 {
		t.Fatalf("tracks = %d, want 1", len(res.Tracks))
	}
	track, ok := res.Tracks["trk_9"]
	if !ok {
		t.Fatal("missing trk_9")
	}
	if track.LastSeenMs != 300 {
		t.Fatalf("last_seen_ms = %d, want max ts 300", track.LastSeenMs)
	}
	if res.DomainCounts["air"] != 3 {
		t.Fatalf("domain counts = %v", res.DomainCounts)
	}
}

func TestFuseAnonymousFallback(t *testing.T) {
	readings := []model.SensorReading{
		reading("r1", "cam_7", "facility", 100, nil),
		reading("r2", "cam_7", "facility", 150, map[string]any{"badge": "none"}),
		reading("r3", "cam_8", "facility", 120, nil),
	}
	res := Fuse(readings)
	if len(res.Tracks) != 2 {
		t.Fatalf("tracks = %d, want 2 anon tracks", len(res.Tracks))
	}
	if _, ok := res.Tracks["anon_facility_cam_7"]; !ok {
		t.Fatalf("missing anon_facility_cam_7, got %v", keys(res.Tracks))
	}
	if _, ok := res.Tracks["anon_facility_cam_8"]; !ok {
		t.Fatalf("missing anon_facility_cam_8, got %v", keys(res.Tracks))
	}
}

func TestFusePassesReadingsThrough(t *testing.T) {
	readings := []model.SensorReading{reading("r1", "s", "air", 1, nil)}
	res := Fuse(readings)
	if len(res.Readings) != 1 || res.Readings[0].ID != "r1" {
		t.Fatal("fusion must not alter the reading stream")
	}
}

func keys(m map[string]model.EntityTrack) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
