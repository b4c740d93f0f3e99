package offline

// LogEntry is an interaction log recorded while offline.
type LogEntry struct {
	ID          int64  `json:"id"`
	Component   string `json:"component"`
	InstanceID  int64  `json:"instanceid"`
	Action      string `json:"action"`
	Data        string `json:"data"`
	TimeCreated int64  `json:"timecreated"`
}
