package sync

import "time"

// Failure records why one asset could not be priced this cycle.
type Failure struct {
	AssetID int64  `json:"asset_id"`
	Reason  string `json:"reason"`
}

// Report is the outcome of one sync cycle across all tracked assets.
//
// Missing is not an error state: the asset's key was simply absent from
// its source's response this cycle, so it keeps its previous price.
type Report struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Updated    []int64   `json:"updated"`
	Missing    []int64   `json:"missing"`
	Failed     []Failure `json:"failed"`
}
