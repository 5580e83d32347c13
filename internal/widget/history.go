// Package widget implements the headless chat widget engine: a persistent
// scoped socket connection, REST/live history reconciliation, presence and
// typing tracking, receipt state, inbox aggregation, and the top-level widget
// controller the rest of the application talks to.
package widget

import (
	"sort"

	"marketchat/internal/models"
)

// Merge reconciles the REST history snapshot with the socket-delivered live
// messages into one gap-free sequence: duplicates (by message ID) collapse
// and the result is ascending by creation time regardless of which source a
// message arrived through first. It is a pure function and is recomputed on
// every read; the inputs are never mutated.
func Merge(snapshot, live []models.Message) []models.Message {
	merged := make([]models.Message, 0, len(snapshot)+len(live))
	seen := make(map[string]struct{}, len(snapshot)+len(live))

	for _, m := range snapshot {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range live {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})
	return merged
}
