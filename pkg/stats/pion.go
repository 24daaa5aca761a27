package stats

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pion/webrtc/v4"
)

// FromPion flattens a pion stats report into generic reports using the
// stats' JSON field names. Reports come back ordered by id. Only the
// nominated candidate pair keeps availableOutgoingBitrate, which marks the
// pair Enumerate reads.
func FromPion(report webrtc.StatsReport) ([]Report, error) {
	ids := make([]string, 0, len(report))
	for id := range report {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reports := make([]Report, 0, len(ids))
	for _, id := range ids {
		raw, err := json.Marshal(report[id])
		if err != nil {
			return nil, fmt.Errorf("marshal stats %s: %w", id, err)
		}
		var r Report
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("unmarshal stats %s: %w", id, err)
		}
		if !r.Has("id") {
			r["id"] = id
		}
		if r.Type() == "candidate-pair" && r["nominated"] != true {
			delete(r, "availableOutgoingBitrate")
		}
		reports = append(reports, r)
	}
	return reports, nil
}
