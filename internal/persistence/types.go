package persistence

import "time"

// LoadBatch records one successful load of one table period.
type LoadBatch struct {
	ID         string    `json:"id" yaml:"id"`
	Pipeline   string    `json:"pipeline" yaml:"pipeline"`
	Source     string    `json:"source" yaml:"source"`
	TableID    string    `json:"table_id" yaml:"table_id"`
	Period     string    `json:"period" yaml:"period"`
	JobID      string    `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	RowCount   int       `json:"row_count" yaml:"row_count"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}
