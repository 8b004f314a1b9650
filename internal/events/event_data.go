package events

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// PricesSyncedData contains data for PricesSynced events
type PricesSyncedData struct {
	ReportID string `json:"report_id"`
	Updated  int    `json:"updated"`
	Missing  int    `json:"missing"`
	Failed   int    `json:"failed"`
}

// EventType returns the event type for PricesSyncedData
func (d *PricesSyncedData) EventType() EventType {
	return PricesSynced
}

// AssetAddedData contains data for AssetAdded events
type AssetAddedData struct {
	AssetID  int64  `json:"asset_id"`
	Name     string `json:"name"`
	Fineness string `json:"fineness"`
}

// EventType returns the event type for AssetAddedData
func (d *AssetAddedData) EventType() EventType {
	return AssetAdded
}

// AssetRemovedData contains data for AssetRemoved events
type AssetRemovedData struct {
	AssetID int64 `json:"asset_id"`
}

// EventType returns the event type for AssetRemovedData
func (d *AssetRemovedData) EventType() EventType {
	return AssetRemoved
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	BundleID string `json:"bundle_id"`
	Assets   int    `json:"assets"`
	Points   int    `json:"points"`
	Uploaded bool   `json:"uploaded"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}
