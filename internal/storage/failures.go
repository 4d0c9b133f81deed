package storage

import "time"

// FailureRecord is one request that did not produce a prediction.
type FailureRecord struct {
	ID           string             `json:"id"`
	ModelVersion string             `json:"model_version"`
	Timestamp    time.Time          `json:"timestamp"`
	Kind         string             `json:"kind"`
	Error        string             `json:"error"`
	Inputs       map[string]float64 `json:"inputs,omitempty"`
}

// StoreFailure appends one failed request to the log.
func (s *Store) StoreFailure(record FailureRecord) error {
	return put(s.db, failuresBucket, record.ModelVersion, record.Timestamp, record)
}

// GetFailures returns the failures of modelVersion with start <= ts <= end.
func (s *Store) GetFailures(modelVersion string, start, end time.Time) ([]FailureRecord, error) {
	return getRecordsInRange[FailureRecord](s.db, failuresBucket, modelVersion, start, end)
}
