package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ev-insight/internal/artifact"
	"ev-insight/internal/cfg"
	"ev-insight/internal/client"
	"ev-insight/internal/explain"
	"ev-insight/internal/ml"
	"ev-insight/internal/report"
)

// assignments collects repeated -set name=value flags.
type assignments map[string]float64

func (a assignments) String() string {
	parts := make([]string, 0, len(a))
	for k, v := range a {
		parts = append(parts, k+"="+strconv.FormatFloat(v, 'g', -1, 64))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (a assignments) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("feature %s: %w", name, err)
	}
	a[strings.TrimSpace(name)] = v
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	set := assignments{}
	var (
		modelPath = flag.String("model", "", "Path to model artifact (default from MODEL_PATH)")
		remote    = flag.String("remote", "", "Base URL of a running evserve instead of a local model")
		method    = flag.String("method", "", "Explainer: tree or exact (default from EXPLAIN_METHOD)")
		steps     = flag.Int("steps", 0, "Sensitivity steps; 0 skips the sensitivity table")
		xlsxPath  = flag.String("xlsx", "", "Write the explained prediction to this workbook")
		reportDir = flag.String("report-dir", "", "Write xlsx, csv and json reports into this directory")
		requestID = flag.String("id", "", "Request ID (generated when empty)")
		logLevel  = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
		timeout   = flag.Duration("timeout", 10*time.Second, "Deadline for the whole run")
	)
	flag.Var(set, "set", "Feature value as name=value; repeatable. Unset features use the training mean")
	flag.Parse()

	// Setup logging
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	id := *requestID
	if id == "" {
		id = uuid.NewString()
	}

	var rep report.Report
	if *remote != "" {
		rep, err = runRemote(ctx, *remote, id, set, *steps)
	} else {
		rep, err = runLocal(ctx, *modelPath, *method, id, set, *steps)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("prediction failed")
	}

	reporter := report.NewReporter(rep, *reportDir)
	reporter.PrintSummary(os.Stdout)

	if *xlsxPath != "" {
		if err := reporter.WriteXLSX(*xlsxPath); err != nil {
			log.Fatal().Err(err).Msg("failed to write workbook")
		}
		fmt.Printf("\nWorkbook written to %s\n", *xlsxPath)
	}
	if *reportDir != "" {
		if err := reporter.GenerateReport(); err != nil {
			log.Fatal().Err(err).Msg("failed to write reports")
		}
		fmt.Printf("Reports written to %s\n", *reportDir)
	}
}

func runLocal(ctx context.Context, modelPath, method, id string, set assignments, steps int) (report.Report, error) {
	c, err := cfg.Load()
	if err != nil {
		return report.Report{}, err
	}
	if modelPath == "" {
		modelPath = c.ModelPath
	}
	if method == "" {
		method = c.ExplainMethod
	}

	a, err := artifact.Load(modelPath)
	if err != nil {
		return report.Report{}, err
	}
	svc, err := ml.NewService(a, ml.Config{
		ExplainMethod:       explain.Method(method),
		SensitivitySteps:    max(steps, 1),
		HideFixedImportance: c.HideFixedImportance,
	}, nil, nil)
	if err != nil {
		return report.Report{}, err
	}

	req := ml.Request{ID: id, Features: withMeans(a.Features, set)}
	res, err := svc.Predict(ctx, req)
	if err != nil {
		return report.Report{}, err
	}

	rep := report.Report{Result: res, Inputs: req.Features, Features: a.Features}
	if steps > 0 {
		if rep.Sensitivity, err = svc.Sensitivity(ctx, req); err != nil {
			return report.Report{}, err
		}
	}
	return rep, nil
}

func runRemote(ctx context.Context, baseURL, id string, set assignments, steps int) (report.Report, error) {
	c := client.New(baseURL, 0)

	schema, err := c.Schema(ctx)
	if err != nil {
		return report.Report{}, fmt.Errorf("fetch schema: %w", err)
	}
	inputs := withMeans(schema, set)

	resp, err := c.Predict(ctx, id, inputs)
	if err != nil {
		return report.Report{}, err
	}

	rep := report.Report{
		Result: &ml.Result{
			ID:               resp.RequestID,
			ModelVersion:     resp.ModelVersion,
			Prediction:       resp.Prediction,
			Baseline:         resp.Baseline,
			Attributions:     resp.Attributions,
			GlobalImportance: resp.GlobalImportance,
			OutOfRange:       resp.OutOfRange,
		},
		Inputs:   inputs,
		Features: schema,
	}
	// The server decides the number of steps.
	if steps > 0 {
		if rep.Sensitivity, err = c.Sensitivity(ctx, id, inputs); err != nil {
			return report.Report{}, err
		}
	}
	return rep, nil
}

// withMeans fills every feature not named in set with its training mean.
// Names outside the schema are passed through so the service reports them.
func withMeans(schema []artifact.Feature, set assignments) map[string]float64 {
	inputs := make(map[string]float64, len(schema)+len(set))
	for _, f := range schema {
		inputs[f.Name] = f.Mean
	}
	for name, v := range set {
		inputs[name] = v
	}
	return inputs
}
