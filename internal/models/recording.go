package models

// LogEntry is one event in a live recording's master log. Seq is the
// arrival position, starting at 1; replay order is by event timestamp.
type LogEntry struct {
	Seq          uint64      `json:"seq"`
	SourceUserID string      `json:"source_user_id"`
	Event        ReplayEvent `json:"event"`
	ReceivedAt   int64       `json:"received_at"`
}

// Participant is a producer that has appended to a recording.
type Participant struct {
	UserID    string            `json:"user_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	FirstSeen int64             `json:"first_seen"`
	LastSeen  int64             `json:"last_seen"`
	Events    int               `json:"events"`
}

// RecordingArchive is what a finished recording is persisted as.
type RecordingArchive struct {
	RecordingID  string        `json:"recording_id"`
	ProjectID    string        `json:"project_id"`
	StartTime    int64         `json:"start_time"`
	EndTime      int64         `json:"end_time"`
	Participants []Participant `json:"participants"`
	Entries      []LogEntry    `json:"entries"`
}
