package artifact

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-insight/internal/errs"
	"ev-insight/internal/features"
)

const fixture = "testdata/ev_model.json"

func loadDoc(t *testing.T) map[string]any {
	t.Helper()
	data, err := os.ReadFile(fixture)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func decodeDoc(t *testing.T, doc map[string]any) (*Artifact, error) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return Decode(bytes.NewReader(data))
}

func section(doc map[string]any, key string) map[string]any {
	return doc[key].(map[string]any)
}

func TestLoad(t *testing.T) {
	a, err := Load(fixture)
	require.NoError(t, err)

	assert.Equal(t, "2024-12-01", a.Version)
	assert.Equal(t, "ev_count", a.Target)
	assert.Equal(t, fixture, a.Path)
	assert.Equal(t, time.Date(2024, 12, 1, 9, 30, 0, 0, time.UTC), a.TrainedAt)
	assert.Equal(t, []string{"median_household_income", "margin_error", "dem_votes", "rep_votes", "charger_density"}, a.Schema.Names())
	assert.Equal(t, 5, a.Scaler.Len())
	assert.Equal(t, 5, a.Model.NumFeatures())
	assert.Len(t, a.Model.Trees, 2)
	assert.Equal(t, 3120, a.Metrics.TrainingRows)

	pred, err := a.Model.Predict([]float64{0.5, 0, 0, 0, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1825.0, pred)
}

func TestLoad_DerivesImportance(t *testing.T) {
	a, err := Load(fixture)
	require.NoError(t, err)

	want := []float64{7.0 / 18, 0, 3.0 / 18, 1.2 / 18, 6.8 / 18}
	require.Len(t, a.Importance, len(want))
	for i := range want {
		assert.InDelta(t, want[i], a.Importance[i], 1e-12, a.Schema.Name(i))
	}
}

func TestDecode_ExportedImportance(t *testing.T) {
	doc := loadDoc(t)
	section(doc, "model")["feature_importances"] = []float64{0.4, 0.1, 0.2, 0.1, 0.2}

	a, err := decodeDoc(t, doc)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.1, 0.2, 0.1, 0.2}, a.Importance)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.ErrorIs(t, err, errs.ErrModelUnavailable)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(doc map[string]any)
		wantMsg string
	}{
		{
			name:    "format version",
			mutate:  func(doc map[string]any) { doc["format_version"] = 2 },
			wantMsg: "unsupported format version 2",
		},
		{
			name:    "model type",
			mutate:  func(doc map[string]any) { section(doc, "model")["type"] = "random_forest_regressor" },
			wantMsg: "unsupported model type",
		},
		{
			name:    "empty schema",
			mutate:  func(doc map[string]any) { doc["features"] = []any{} },
			wantMsg: "feature schema is empty",
		},
		{
			name: "duplicate feature",
			mutate: func(doc map[string]any) {
				doc["features"].([]any)[3].(map[string]any)["name"] = "dem_votes"
			},
			wantMsg: "duplicate feature name",
		},
		{
			name:    "short scaler",
			mutate:  func(doc map[string]any) { section(doc, "scaler")["scale"] = []float64{1, 2, 3} },
			wantMsg: "3 scales for 5 features",
		},
		{
			name:    "zero scale",
			mutate:  func(doc map[string]any) { section(doc, "scaler")["scale"] = []float64{1, 0, 1, 1, 1} },
			wantMsg: "scale of feature 1",
		},
		{
			name: "feature index out of range",
			mutate: func(doc map[string]any) {
				tree := section(doc, "model")["trees"].([]any)[1].(map[string]any)
				tree["feature"] = []int{9, -2, 3, -2, -2}
			},
			wantMsg: "feature index 9 out of range",
		},
		{
			name: "importance length",
			mutate: func(doc map[string]any) {
				section(doc, "model")["feature_importances"] = []float64{1}
			},
			wantMsg: "feature_importances has 1 entries",
		},
		{
			name:    "bad timestamp",
			mutate:  func(doc map[string]any) { doc["trained_at"] = "yesterday" },
			wantMsg: "trained_at",
		},
		{
			name: "inverted range",
			mutate: func(doc map[string]any) {
				f := doc["features"].([]any)[0].(map[string]any)
				f["min"], f["max"] = 9, 1
			},
			wantMsg: "min 9 above max 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := loadDoc(t)
			tt.mutate(doc)

			a, err := decodeDoc(t, doc)
			assert.Nil(t, a)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrConfiguration)
			assert.ErrorIs(t, err, errs.ErrModelUnavailable)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDecode_OrphanNodeRejected(t *testing.T) {
	doc := loadDoc(t)
	model := section(doc, "model")
	require.NotContains(t, model, "feature_importances")
	model["trees"] = append(model["trees"].([]any), map[string]any{
		"children_left":  []int{1, -1, -1, 50},
		"children_right": []int{2, -1, -1, 51},
		"feature":        []int{0, -2, -2, 1},
		"threshold":      []float64{0, -2, -2, 0},
		"value":          []float64{0, -1, 1, 0},
		"cover":          []float64{10, 5, 5, 3},
		"impurity":       []float64{1, 0, 0, 1},
	})

	var (
		a   *Artifact
		err error
	)
	require.NotPanics(t, func() { a, err = decodeDoc(t, doc) })
	assert.Nil(t, a)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Contains(t, err.Error(), "tree 2")
	assert.Contains(t, err.Error(), "node 3 is not reachable from the root")
}

func TestDecode_ReportsEveryProblem(t *testing.T) {
	doc := loadDoc(t)
	doc["format_version"] = 0
	section(doc, "model")["type"] = "linear"
	section(doc, "scaler")["mean"] = []float64{}

	_, err := decodeDoc(t, doc)
	require.Error(t, err)
	for _, want := range []string{"format version", "model type", "scaler has 0 means"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDecode_NotJSON(t *testing.T) {
	_, err := Decode(strings.NewReader("model.pkl"))
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestDescriptors(t *testing.T) {
	a, err := Load(fixture)
	require.NoError(t, err)

	means := a.Means()
	assert.Equal(t, 80000.0, means["median_household_income"])
	assert.Equal(t, 5e-9, means["charger_density"])

	margin, ok := a.Feature("margin_error")
	require.True(t, ok)
	assert.True(t, margin.Fixed)
	_, ok = a.Feature("population")
	assert.False(t, ok)

	ranges := a.Ranges()
	assert.Equal(t, features.Range{Min: 100, Max: 900000}, ranges[2])

	assert.Equal(t, 24*time.Hour, a.Age(a.TrainedAt.Add(24*time.Hour)))
	assert.Zero(t, (&Artifact{}).Age(time.Now()))
}
