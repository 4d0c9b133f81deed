// Package storage keeps an audit log of served predictions in BoltDB.
// Each successful prediction and each rejected or failed request is stored
// under a "modelVersion_timestamp_sequence" key, so the log can be scanned per
// model version over a time range.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	predictionsBucket = "predictions" // Successful predictions
	failuresBucket    = "failures"    // Rejected or failed requests

	dbFile = "ev-insight.db"
)

// PredictionRecord is one served prediction.
type PredictionRecord struct {
	ID           string             `json:"id"`
	ModelVersion string             `json:"model_version"`
	Timestamp    time.Time          `json:"timestamp"`
	Inputs       map[string]float64 `json:"inputs"`
	Prediction   float64            `json:"prediction"`
	Baseline     float64            `json:"baseline"`
	Attributions map[string]float64 `json:"attributions"`
	OutOfRange   []string           `json:"out_of_range,omitempty"`
}

// Store provides persistent storage for the prediction log.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the log database inside dataPath.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(failuresBucket)); err != nil {
			return fmt.Errorf("create failures bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StorePrediction appends one prediction to the log.
func (s *Store) StorePrediction(record PredictionRecord) error {
	return put(s.db, predictionsBucket, record.ModelVersion, record.Timestamp, record)
}

// GetPredictions returns the predictions of modelVersion with start <= ts <= end,
// ordered by timestamp.
func (s *Store) GetPredictions(modelVersion string, start, end time.Time) ([]PredictionRecord, error) {
	return getRecordsInRange[PredictionRecord](s.db, predictionsBucket, modelVersion, start, end)
}

// Count returns the number of predictions and failures stored.
func (s *Store) Count() (predictions, failures int, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		predictions = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		failures = tx.Bucket([]byte(failuresBucket)).Stats().KeyN
		return nil
	})
	return predictions, failures, err
}

// timeKey is the "modelVersion_timestamp" prefix of every record stamped at ts.
func timeKey(modelVersion string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%019d", modelVersion, ts.UnixNano()))
}

// recordKey appends the bucket sequence so records stamped in the same clock
// tick keep distinct keys.
func recordKey(modelVersion string, ts time.Time, seq uint64) []byte {
	return append(timeKey(modelVersion, ts), fmt.Sprintf("_%020d", seq)...)
}

func put(db *bbolt.DB, bucket, modelVersion string, ts time.Time, record any) error {
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", bucket, err)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next %s sequence: %w", bucket, err)
		}
		return b.Put(recordKey(modelVersion, ts, seq), data)
	})
}

// getRecordsInRange scans one bucket with a cursor from the start key to the
// end key. Malformed records are skipped.
func getRecordsInRange[T any](db *bbolt.DB, bucket, modelVersion string, start, end time.Time) ([]T, error) {
	var records []T

	err := db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()

		prefix := []byte(modelVersion + "_")
		endKey := timeKey(modelVersion, end.Add(time.Nanosecond))

		for k, v := c.Seek(timeKey(modelVersion, start)); k != nil && bytes.Compare(k, endKey) < 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}

			var record T
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}
