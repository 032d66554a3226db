package estimator

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateEmptyIsZero(t *testing.T) {
	e := Default()
	for _, role := range []Role{RoleInput, RoleOutput, RoleGeneric} {
		assert.Equal(t, 0, e.Estimate("", role), role.String())
	}
}

func TestEstimateNonEmptyFloorsAtOne(t *testing.T) {
	e := Default()
	for _, text := range []string{"a", " ", "\n", "é"} {
		for _, role := range []Role{RoleInput, RoleOutput, RoleGeneric} {
			assert.GreaterOrEqual(t, e.Estimate(text, role), 1, "%q/%s", text, role)
		}
	}
}

func TestEstimateUsesRoleRatios(t *testing.T) {
	e := Default()
	text := strings.Repeat("x", 1057)
	assert.Equal(t, 235, e.Estimate(text, RoleInput))

	out := strings.Repeat("y", 13680)
	assert.Equal(t, 2276, e.Estimate(out, RoleOutput))

	assert.Equal(t, 2, e.Estimate(strings.Repeat("z", 12), RoleGeneric))
	assert.Equal(t, 3, e.Estimate(strings.Repeat("z", 13), RoleGeneric))
}

func TestEstimateMatchesCeilingFormula(t *testing.T) {
	e := Default()
	cases := []struct {
		text string
		role Role
		num  float64
		den  float64
	}{
		{"Hello there", RoleOutput, 2276, 13680},
		{"You are a helpful assistant.", RoleInput, 235, 1057},
		{"Hi", RoleInput, 235, 1057},
		{"some generic words", RoleGeneric, 1, 6},
	}
	for _, tc := range cases {
		want := int(math.Ceil(float64(len(tc.text)) * tc.num / tc.den))
		if want < 1 {
			want = 1
		}
		assert.Equal(t, want, e.Estimate(tc.text, tc.role), tc.text)
	}
}

func TestEstimateMonotonicInLength(t *testing.T) {
	e := Default()
	for _, role := range []Role{RoleInput, RoleOutput, RoleGeneric} {
		prev := 0
		for n := 0; n <= 500; n++ {
			got := e.Estimate(strings.Repeat("a", n), role)
			require.GreaterOrEqual(t, got, prev, "role=%s n=%d", role, n)
			prev = got
		}
	}
}

func TestEstimateCountsRunesNotBytes(t *testing.T) {
	e := Default()
	assert.Equal(t, e.Estimate("aaaaaa", RoleGeneric), e.Estimate("éééééé", RoleGeneric))
}

func TestEstimateStructuredUsesCanonicalJSON(t *testing.T) {
	e := Default()
	v := map[string]any{"b": 2, "a": "x"}
	canonical := `{"a":"x","b":2}`
	assert.Equal(t, canonical, CanonicalText(v))
	assert.Equal(t, e.Estimate(canonical, RoleOutput), e.EstimateStructured(v, RoleOutput))
}

func TestCanonicalTextVariants(t *testing.T) {
	assert.Equal(t, "", CanonicalText(nil))
	assert.Equal(t, "plain", CanonicalText("plain"))
	assert.Equal(t, `{"a":[1,2]}`, CanonicalText(json.RawMessage("{ \"a\" : [1, 2] }")))
	assert.Equal(t, `[1,2,3]`, CanonicalText([]int{1, 2, 3}))

	// Types with a String method still serialize as JSON.
	assert.Equal(t, `"2025-06-01T12:00:00Z"`, CanonicalText(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, `2`, CanonicalText(RoleOutput))
	assert.Equal(t, `{"when":"2025-06-01T12:00:00Z"}`, CanonicalText(map[string]time.Time{"when": time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}))
}

func TestCustomCalibration(t *testing.T) {
	e := New(Calibration{
		Input:   Ratio{Tokens: 1, Characters: 2},
		Output:  Ratio{Tokens: 1, Characters: 3},
		Generic: Ratio{Tokens: 1, Characters: 4},
	})
	assert.Equal(t, 5, e.Estimate(strings.Repeat("a", 10), RoleInput))
	assert.Equal(t, 4, e.Estimate(strings.Repeat("a", 10), RoleOutput))
	assert.Equal(t, 3, e.Estimate(strings.Repeat("a", 10), RoleGeneric))
}

func TestCalibrationValidate(t *testing.T) {
	require.NoError(t, DefaultCalibration().Validate())

	bad := DefaultCalibration()
	bad.Output = Ratio{Tokens: 0, Characters: 10}
	bad.Generic = Ratio{Tokens: 1, Characters: -1}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output ratio")
	assert.Contains(t, err.Error(), "generic ratio")
}

func TestRatioInverse(t *testing.T) {
	r := Ratio{Tokens: 235, Characters: 1057}
	assert.InDelta(t, 4.4979, r.CharsPerToken(), 0.001)
	assert.InDelta(t, 0.2223, r.PerChar(), 0.001)
	assert.Zero(t, Ratio{}.PerChar())
	assert.Zero(t, Ratio{}.CharsPerToken())
}

func TestLoadCalibrationPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	content := "name = \"small-model\"\n\n[output]\ntokens = 1000\ncharacters = 5000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cal, err := LoadCalibration(path)
	require.NoError(t, err)
	assert.Equal(t, "small-model", cal.Name)
	assert.Equal(t, Ratio{Tokens: 1000, Characters: 5000}, cal.Output)
	assert.Equal(t, DefaultCalibration().Input, cal.Input)
	assert.Equal(t, DefaultCalibration().Generic, cal.Generic)
}

func TestLoadCalibrationRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	zero := filepath.Join(dir, "zero.toml")
	require.NoError(t, os.WriteFile(zero, []byte("[input]\ntokens = 0\ncharacters = 10\n"), 0o644))
	_, err := LoadCalibration(zero)
	require.Error(t, err)

	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("ratio = 4\n"), 0o644))
	_, err = LoadCalibration(unknown)
	require.Error(t, err)

	_, err = LoadCalibration(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func TestSaveCalibrationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fit.toml")
	cal := DefaultCalibration()
	cal.Name = "fitted"
	cal.Input = Ratio{Tokens: 300, Characters: 1200}

	require.NoError(t, SaveCalibration(path, cal))
	loaded, err := LoadCalibration(path)
	require.NoError(t, err)
	assert.Equal(t, cal, loaded)
}
