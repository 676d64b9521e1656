package store

import "time"

// ImageRecord captures the result of a toolchain image build.
type ImageRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Target    string    `json:"target"`
	Tag       string    `json:"tag"`
	ImageID   string    `json:"image_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Duration  string    `json:"duration"`
}

// BuildRecord captures the result of a firmware build.
type BuildRecord struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Board      string    `json:"board"`
	App        string    `json:"app"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	Duration   string    `json:"duration"`
	Artifacts  []string  `json:"artifacts,omitempty"`
	Generation int       `json:"generation,omitempty"`
}

// FlashRecord captures the result of a flash operation.
type FlashRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Board     string    `json:"board"`
	Port      string    `json:"port"`
	Artifact  string    `json:"artifact"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Duration  string    `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// SerialLog tracks a serial monitoring session.
type SerialLog struct {
	ID        string    `json:"id"`
	Port      string    `json:"port"`
	BaudRate  int       `json:"baud_rate"`
	Timestamp time.Time `json:"timestamp"`
	LogFile   string    `json:"log_file,omitempty"`
	Lines     int       `json:"lines"`
	Error     string    `json:"error,omitempty"`
}
