package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"ev-insight/internal/errs"
	"ev-insight/internal/explain"
	"ev-insight/internal/ml"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// PredictionRequest is the body of /predict and /sensitivity. A null feature
// value is rejected rather than read as zero.
type PredictionRequest struct {
	Features  map[string]*float64 `json:"features"`
	RequestID string              `json:"request_id,omitempty"`
}

// PredictionResponse is the body returned by /predict.
type PredictionResponse struct {
	RequestID        string                `json:"request_id"`
	ModelVersion     string                `json:"model_version"`
	Prediction       float64               `json:"prediction"`
	Baseline         float64               `json:"baseline"`
	Attributions     []explain.Attribution `json:"attributions"`
	GlobalImportance []explain.Attribution `json:"global_importance"`
	OutOfRange       []string              `json:"out_of_range,omitempty"`
	Latency          float64               `json:"latency_ms"`
	Timestamp        time.Time             `json:"timestamp"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`
}

// ReloadRequest selects a registered version. An empty body reloads the
// active artifact from disk.
type ReloadRequest struct {
	Version string `json:"version,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	if kind := errs.KindOf(err); kind != nil {
		resp.Kind = errs.Label(err)
	}
	var mismatch *errs.SchemaMismatchError
	if errors.As(err, &mismatch) {
		resp.Missing = mismatch.Missing
		resp.Extra = mismatch.Extra
	}
	respondJSON(w, status, resp)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return errs.Validation(nil, "invalid request body: %v", err)
	}
	return nil
}

func (s *Server) decodePrediction(r *http.Request) (ml.Request, error) {
	var body PredictionRequest
	if err := decodeBody(r, &body, false); err != nil {
		return ml.Request{}, err
	}
	if body.Features == nil {
		return ml.Request{}, errs.Validation(nil, "features is required")
	}

	inputs := make(map[string]float64, len(body.Features))
	for name, v := range body.Features {
		if v == nil {
			return ml.Request{}, errs.Validation(errs.ErrInvalidValue, "feature %q is null", name)
		}
		inputs[name] = *v
	}
	return ml.Request{ID: body.RequestID, Features: inputs}, nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := s.decodePrediction(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := s.predictor.Predict(ctx, req)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	respondJSON(w, http.StatusOK, PredictionResponse{
		RequestID:        res.ID,
		ModelVersion:     res.ModelVersion,
		Prediction:       res.Prediction,
		Baseline:         res.Baseline,
		Attributions:     res.Attributions,
		GlobalImportance: res.GlobalImportance,
		OutOfRange:       res.OutOfRange,
		Latency:          float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:        time.Now(),
	})
}

func (s *Server) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodePrediction(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	report, err := s.predictor.Sensitivity(ctx, req)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.predictor.Schema())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.predictor.Health()

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	alerts := s.predictor.Drift()
	if alerts == nil {
		alerts = []ml.DriftAlert{}
	}
	respondJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.predictor.Info())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	var body ReloadRequest
	if err := decodeBody(r, &body, true); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	path := ""
	if body.Version != "" {
		if s.versions == nil {
			respondError(w, http.StatusNotFound, errors.New("model registry not configured"))
			return
		}
		v, ok := s.versions.Version(body.Version)
		if !ok {
			respondError(w, http.StatusNotFound, fmt.Errorf("version %s not registered", body.Version))
			return
		}
		path = v.Path
	}

	if err := s.predictor.Reload(path); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if body.Version != "" {
		if _, err := s.versions.ActivateVersion(body.Version); err != nil {
			log.Warn().Err(err).Str("version", body.Version).Msg("Failed to mark version active")
		}
	}
	respondJSON(w, http.StatusOK, s.predictor.Info())
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	if s.versions == nil {
		respondError(w, http.StatusNotFound, errors.New("model registry not configured"))
		return
	}
	respondJSON(w, http.StatusOK, s.versions.ListVersions())
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if s.versions == nil {
		respondError(w, http.StatusNotFound, errors.New("model registry not configured"))
		return
	}

	current, _ := s.versions.CurrentVersion()
	prev, err := s.versions.Rollback()
	if err != nil {
		respondError(w, http.StatusConflict, err)
		return
	}
	if err := s.predictor.Reload(prev.Path); err != nil {
		if _, restoreErr := s.versions.ActivateVersion(current.Version); restoreErr != nil {
			log.Error().Err(restoreErr).Str("version", current.Version).Msg("Failed to restore active version")
		}
		respondError(w, http.StatusUnprocessableEntity, err)
		return
	}

	log.Info().Str("from", current.Version).Str("to", prev.Version).Msg("Rolled back model")
	respondJSON(w, http.StatusOK, prev)
}
