// Package client is a Go client for the prediction API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ev-insight/internal/api"
	"ev-insight/internal/artifact"
	"ev-insight/internal/errs"
	"ev-insight/internal/ml"
)

// APIError is a non-2xx response. It matches the server's error kind with
// errors.Is, so callers can tell a bad request from a server failure.
type APIError struct {
	Status int
	Body   api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Error == "" {
		return fmt.Sprintf("prediction api: status %d", e.Status)
	}
	return fmt.Sprintf("prediction api: status %d: %s", e.Status, e.Body.Error)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case errs.ErrValidation:
		return e.Body.Kind == "validation"
	case errs.ErrConfiguration:
		return e.Body.Kind == "configuration"
	case errs.ErrComputation:
		return e.Body.Kind == "computation"
	case errs.ErrSchemaMismatch:
		return len(e.Body.Missing) > 0 || len(e.Body.Extra) > 0
	}
	return false
}

type Client struct {
	base string
	rest *resty.Client
}

// New returns a client for the API rooted at base, e.g. http://localhost:8080.
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(10 * time.Second)
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Predict requests a prediction with attributions.
func (c *Client) Predict(ctx context.Context, requestID string, inputs map[string]float64) (*api.PredictionResponse, error) {
	out := &api.PredictionResponse{}
	if err := c.do(ctx, http.MethodPost, "/predict", predictionBody(requestID, inputs), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sensitivity requests a what-if sweep around inputs.
func (c *Client) Sensitivity(ctx context.Context, requestID string, inputs map[string]float64) (*ml.SensitivityReport, error) {
	out := &ml.SensitivityReport{}
	if err := c.do(ctx, http.MethodPost, "/sensitivity", predictionBody(requestID, inputs), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Schema returns the feature descriptors of the active model.
func (c *Client) Schema(ctx context.Context) ([]artifact.Feature, error) {
	var out []artifact.Feature
	if err := c.do(ctx, http.MethodGet, "/schema", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Info describes the active model.
func (c *Client) Info(ctx context.Context) (*ml.ModelInfo, error) {
	out := &ml.ModelInfo{}
	if err := c.do(ctx, http.MethodGet, "/model/info", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health returns the server's health. An unhealthy server answers 503 with
// a status body, which is returned together with the error.
func (c *Client) Health(ctx context.Context) (*ml.HealthStatus, error) {
	out := &ml.HealthStatus{}
	resp, err := c.rest.R().SetContext(ctx).SetResult(out).SetError(out).Get(c.base + "/health")
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	if resp.IsError() {
		return out, &APIError{Status: resp.StatusCode(), Body: api.ErrorResponse{Error: out.LastError}}
	}
	return out, nil
}

// Reload asks the server to reload its model, optionally switching to a
// registered version.
func (c *Client) Reload(ctx context.Context, version string) (*ml.ModelInfo, error) {
	out := &ml.ModelInfo{}
	if err := c.do(ctx, http.MethodPost, "/model/reload", api.ReloadRequest{Version: version}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func predictionBody(requestID string, inputs map[string]float64) api.PredictionRequest {
	features := make(map[string]*float64, len(inputs))
	for name, v := range inputs {
		features[name] = &v
	}
	return api.PredictionRequest{RequestID: requestID, Features: features}
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	apiErr := &APIError{}
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&apiErr.Body)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return nil
}
