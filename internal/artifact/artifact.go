// Package artifact loads the trained model bundle exported by the offline
// trainer: feature schema, scaling parameters, tree ensemble and training
// metrics. A loaded Artifact is immutable.
package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"

	"ev-insight/internal/ensemble"
	"ev-insight/internal/errs"
	"ev-insight/internal/features"
)

const (
	// FormatVersion is the only document layout this package reads.
	FormatVersion = 1
	// ModelGradientBoosting is the exported sklearn GradientBoostingRegressor.
	ModelGradientBoosting = "gradient_boosting_regressor"
)

// Feature describes one model input as the trainer saw it.
type Feature struct {
	Name  string  `json:"name"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Step  float64 `json:"step"`
	Fixed bool    `json:"fixed"`
}

// Metrics are the hold-out scores recorded at training time.
type Metrics struct {
	R2           float64 `json:"r2"`
	RMSE         float64 `json:"rmse"`
	MAE          float64 `json:"mae"`
	TrainingRows int     `json:"training_rows"`
}

type document struct {
	FormatVersion int       `json:"format_version"`
	Version       string    `json:"version"`
	TrainedAt     string    `json:"trained_at"`
	Target        string    `json:"target"`
	Features      []Feature `json:"features"`
	Scaler        struct {
		Mean  []float64 `json:"mean"`
		Scale []float64 `json:"scale"`
	} `json:"scaler"`
	Model struct {
		Type               string     `json:"type"`
		InitValue          float64    `json:"init_value"`
		LearningRate       float64    `json:"learning_rate"`
		Trees              []treeJSON `json:"trees"`
		FeatureImportances []float64  `json:"feature_importances"`
	} `json:"model"`
	Metrics Metrics `json:"metrics"`
}

type treeJSON struct {
	ChildrenLeft  []int     `json:"children_left"`
	ChildrenRight []int     `json:"children_right"`
	Feature       []int     `json:"feature"`
	Threshold     []float64 `json:"threshold"`
	Value         []float64 `json:"value"`
	Cover         []float64 `json:"cover"`
	Impurity      []float64 `json:"impurity"`
}

// Artifact is a validated model bundle.
type Artifact struct {
	Version   string
	TrainedAt time.Time
	Target    string
	Features  []Feature
	Schema    features.Schema
	Scaler    features.Scaler
	Model     *ensemble.Ensemble
	// Importance is the normalised global importance in schema order.
	Importance []float64
	Metrics    Metrics
	Path       string
	// ModTime is the file's modification time when it was loaded.
	ModTime time.Time
}

// Load reads and validates the artifact at path.
func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Configuration(errs.ErrModelUnavailable, "open artifact: %v", err)
	}
	defer f.Close()

	a, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	a.Path = path
	if info, err := f.Stat(); err == nil {
		a.ModTime = info.ModTime()
	}
	return a, nil
}

// Decode parses and validates one artifact document. Every problem found is
// reported in a single ConfigurationError.
func Decode(r io.Reader) (*Artifact, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errs.Configuration(errs.ErrModelUnavailable, "decode artifact: %v", err)
	}

	a, err := build(&doc)
	if err != nil {
		return nil, errs.Configuration(errs.ErrModelUnavailable, "%v", err)
	}
	return a, nil
}

func build(doc *document) (*Artifact, error) {
	var result *multierror.Error
	a := &Artifact{
		Version:  doc.Version,
		Target:   doc.Target,
		Features: doc.Features,
		Metrics:  doc.Metrics,
	}

	if doc.FormatVersion != FormatVersion {
		result = multierror.Append(result, fmt.Errorf("unsupported format version %d", doc.FormatVersion))
	}
	if doc.Version == "" {
		result = multierror.Append(result, fmt.Errorf("version is empty"))
	}
	if doc.TrainedAt != "" {
		t, err := time.Parse(time.RFC3339, doc.TrainedAt)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("trained_at: %w", err))
		}
		a.TrainedAt = t
	}

	names := make([]string, len(doc.Features))
	for i, f := range doc.Features {
		names[i] = f.Name
		if f.Min > f.Max {
			result = multierror.Append(result, fmt.Errorf("feature %q: min %v above max %v", f.Name, f.Min, f.Max))
		}
		if f.Step < 0 || math.IsNaN(f.Step) {
			result = multierror.Append(result, fmt.Errorf("feature %q: step must not be negative, got %v", f.Name, f.Step))
		}
	}
	schema, err := features.NewSchema(names)
	if err != nil {
		result = multierror.Append(result, err)
	}
	a.Schema = schema
	n := len(names)

	if len(doc.Scaler.Mean) != n || len(doc.Scaler.Scale) != n {
		result = multierror.Append(result, fmt.Errorf("scaler has %d means and %d scales for %d features",
			len(doc.Scaler.Mean), len(doc.Scaler.Scale), n))
	} else if sc, err := features.NewScaler(doc.Scaler.Mean, doc.Scaler.Scale); err != nil {
		result = multierror.Append(result, err)
	} else {
		a.Scaler = sc
	}

	if doc.Model.Type != ModelGradientBoosting {
		result = multierror.Append(result, fmt.Errorf("unsupported model type %q", doc.Model.Type))
	} else if n > 0 {
		trees := make([]ensemble.Tree, len(doc.Model.Trees))
		for i, t := range doc.Model.Trees {
			trees[i] = ensemble.Tree{
				Left:      t.ChildrenLeft,
				Right:     t.ChildrenRight,
				Feature:   t.Feature,
				Threshold: t.Threshold,
				Value:     t.Value,
				Cover:     t.Cover,
				Impurity:  t.Impurity,
			}
		}
		model, err := ensemble.New(doc.Model.InitValue, doc.Model.LearningRate, trees, n)
		if err != nil {
			result = multierror.Append(result, err)
		}
		a.Model = model
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	importance, err := resolveImportance(doc.Model.FeatureImportances, a.Model)
	if err != nil {
		return nil, err
	}
	a.Importance = importance
	return a, nil
}

// resolveImportance uses the exported importances when present, otherwise
// derives them from the trees' impurity decrease.
func resolveImportance(exported []float64, model *ensemble.Ensemble) ([]float64, error) {
	if len(exported) == 0 {
		return model.ImpurityImportance()
	}
	if len(exported) != model.NumFeatures() {
		return nil, fmt.Errorf("feature_importances has %d entries for %d features", len(exported), model.NumFeatures())
	}
	out := make([]float64, len(exported))
	for i, v := range exported {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("feature_importances[%d] is %v", i, v)
		}
		out[i] = v
	}
	return out, nil
}

// Ranges returns the training [min, max] of each feature in schema order.
func (a *Artifact) Ranges() []features.Range {
	out := make([]features.Range, len(a.Features))
	for i, f := range a.Features {
		out[i] = features.Range{Min: f.Min, Max: f.Max}
	}
	return out
}

// Means is the raw input that places every feature at its training mean.
func (a *Artifact) Means() map[string]float64 {
	out := make(map[string]float64, len(a.Features))
	for _, f := range a.Features {
		out[f.Name] = f.Mean
	}
	return out
}

// Feature looks up a descriptor by name.
func (a *Artifact) Feature(name string) (Feature, bool) {
	i, ok := a.Schema.Index(name)
	if !ok {
		return Feature{}, false
	}
	return a.Features[i], true
}

// Age is the time since training, zero when unknown.
func (a *Artifact) Age(now time.Time) time.Duration {
	if a.TrainedAt.IsZero() {
		return 0
	}
	return now.Sub(a.TrainedAt)
}
