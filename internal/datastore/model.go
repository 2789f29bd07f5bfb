package datastore

import "time"

// Observation records one routing outcome.
type Observation struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Label      string    `gorm:"index;size:64" json:"label"`
	Confidence float64   `json:"confidence"`
	BlobName   string    `gorm:"size:128" json:"blob_name,omitempty"`
	Outcome    string    `gorm:"index;size:16" json:"outcome"`
	Reason     string    `gorm:"size:32" json:"reason,omitempty"`
	Evicted    int       `json:"evicted"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// SessionRecord records a finished narration session.
type SessionRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"index;size:64" json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Events    int       `json:"events"`
	Fired     int       `json:"fired"`
	Failed    int       `json:"failed"`
	State     string    `gorm:"size:16" json:"state"` // completed or stopped
}

// LabelCount is the number of accepted observations for one label.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}
