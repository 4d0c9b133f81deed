package main

import (
	"encoding/json"
	"flag"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"ev-insight/internal/storage"
)

// TrainingRecord is one served prediction flattened for retraining.
type TrainingRecord struct {
	Timestamp    int64              `json:"timestamp"`
	ModelVersion string             `json:"model_version"`
	Inputs       map[string]float64 `json:"inputs"`
	Prediction   float64            `json:"prediction"`
	OutOfRange   bool               `json:"out_of_range"`
}

func main() {
	var (
		dataPath   = flag.String("data", "data", "Directory holding the prediction log")
		outputPath = flag.String("output", "scripts/predictions.jsonl", "Output JSON lines file path")
		version    = flag.String("version", "", "Model version to export (required)")
		days       = flag.Int("days", 30, "Number of days to export (0 for all)")
		inRange    = flag.Bool("in-range", false, "Skip predictions with inputs outside the training range")
	)
	flag.Parse()

	if *version == "" {
		log.Fatal("-version is required")
	}

	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	start := time.Unix(0, 0)
	if *days > 0 {
		start = time.Now().AddDate(0, 0, -*days)
	}
	predictions, err := store.GetPredictions(*version, start, time.Now())
	if err != nil {
		log.Fatalf("Failed to read predictions: %v", err)
	}

	records := make([]TrainingRecord, 0, len(predictions))
	for _, p := range predictions {
		if *inRange && len(p.OutOfRange) > 0 {
			continue
		}
		if !isValidRecord(p) {
			continue
		}
		records = append(records, TrainingRecord{
			Timestamp:    p.Timestamp.Unix(),
			ModelVersion: p.ModelVersion,
			Inputs:       p.Inputs,
			Prediction:   p.Prediction,
			OutOfRange:   len(p.OutOfRange) > 0,
		})
	}

	if len(records) == 0 {
		log.Println("Warning: No records found matching criteria")
	}

	outputFile, err := os.Create(*outputPath)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer outputFile.Close()

	encoder := json.NewEncoder(outputFile)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			log.Fatalf("Failed to write JSON record: %v", err)
		}
	}

	log.Printf("Exported %d of %d predictions to %s", len(records), len(predictions), *outputPath)

	if len(records) > 0 {
		first := time.Unix(records[0].Timestamp, 0)
		last := time.Unix(records[len(records)-1].Timestamp, 0)
		log.Printf("Time range: %v to %v", first.Format("2006-01-02 15:04:05"), last.Format("2006-01-02 15:04:05"))

		flagged := make(map[string]int)
		for _, p := range predictions {
			for _, name := range p.OutOfRange {
				flagged[name]++
			}
		}
		names := make([]string, 0, len(flagged))
		for name := range flagged {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			log.Printf("  %s out of range: %d", name, flagged[name])
		}
	}
}

// isValidRecord rejects records whose inputs or prediction are not finite.
func isValidRecord(p storage.PredictionRecord) bool {
	if len(p.Inputs) == 0 || math.IsNaN(p.Prediction) || math.IsInf(p.Prediction, 0) {
		return false
	}
	for _, v := range p.Inputs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
