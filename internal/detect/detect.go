// Package detect finds records that moved into the trigger status since they
// were last observed.
package detect

import (
	"github.com/boringprotocol/boring-bird/internal/model"
	"github.com/boringprotocol/boring-bird/internal/store"
)

// Detect records every status in snapshot into states and returns, in
// snapshot order, the records whose status changed to trigger. Records seen
// for the first time never qualify.
func Detect(snapshot []model.Record, states *store.StatusMap, trigger string) []model.Record {
	var changed []model.Record
	for _, rec := range snapshot {
		prev, _ := states.Swap(rec.ID, rec.Status)
		if rec.Status != prev && rec.Status == trigger {
			changed = append(changed, rec)
		}
	}
	return changed
}
