package models

// RunStats counts ingestion outcomes for one run. Processed always equals
// Stored + Skipped + Errors.
type RunStats struct {
	Processed int `json:"processed"`
	Stored    int `json:"stored"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Balanced reports whether the counters add up.
func (s RunStats) Balanced() bool {
	return s.Processed == s.Stored+s.Skipped+s.Errors
}
