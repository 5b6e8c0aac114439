package domain

import "time"

// Stats is a point-in-time copy of the filtering counters.
// Counters only grow between resets.
//
// RequestsTotal counts every classified request, blocked ones included.
//
// DataSavedKBEstimate is a heuristic: a fixed amount per blocked request,
// not a measured byte count.
type Stats struct {
	AdsBlocked          uint64    `json:"adsBlocked"`
	TrackersBlocked     uint64    `json:"trackersBlocked"`
	RequestsTotal       uint64    `json:"requestsTotal"`
	DataSavedKBEstimate uint64    `json:"dataSavedKB"`
	SessionStart        time.Time `json:"sessionStart"`
}
