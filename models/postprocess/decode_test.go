package postprocess

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testClasses = []string{"fish", "small_fish", "crab", "jellyfish", "shrimp", "starfish"}

// detectionsMajor lays rows out as a [1, n, v] tensor.
func detectionsMajor(rows [][]float32) RawTensor {
	v := len(rows[0])
	data := make([]float32, 0, len(rows)*v)
	for _, r := range rows {
		data = append(data, r...)
	}
	return NewRawTensor(data, 1, len(rows), v)
}

// valuesMajor lays rows out as a [1, v, n] tensor.
func valuesMajor(rows [][]float32) RawTensor {
	n, v := len(rows), len(rows[0])
	data := make([]float32, n*v)
	for i, r := range rows {
		for k, x := range r {
			data[k*n+i] = x
		}
	}
	return NewRawTensor(data, 1, v, n)
}

func newObservedDecoder(threshold float32) (*Decoder, *observer.ObservedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	return NewDecoder(testClasses, 640, 640, threshold, zap.New(core)), logs
}

var sampleRows = [][]float32{
	// cx, cy, w, h, objectness, fish, small_fish, crab, jellyfish, shrimp, starfish
	{0.5, 0.5, 0.2, 0.2, 0.9, 0.1, 0.8, 0, 0, 0, 0},
	{0.3, 0.3, 0.1, 0.1, 0.5, 0.4, 0, 0, 0, 0, 0},
	{320, 160, 64, 32, 1.0, 0, 0, 0, 0, 0, 0.6},
}

// TestDecoder_Orientations validates that both tensor orientations decode to
// the same detections.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestDecoder_Orientations(t *testing.T) {
	tests := []struct {
		name   string
		tensor RawTensor
		layout Orientation
	}{
		{"detections major", detectionsMajor(sampleRows), DetectionsMajor},
		{"values major", valuesMajor(sampleRows), ValuesMajor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, logs := newObservedDecoder(DefaultConfidenceThreshold)

			layout := d.Resolve(tt.tensor)
			require.Equal(t, tt.layout, layout.Orientation)

			dets := d.Decode(tt.tensor, layout)
			require.Len(t, dets, 2, "the 0.2 confidence candidate must be dropped")

			assert.Equal(t, 0, dets[0].ID)
			assert.Equal(t, "small_fish", dets[0].Class)
			assert.Equal(t, 1, dets[0].ClassIndex)
			assert.InDelta(t, 0.72, dets[0].Confidence, 1e-6)
			assert.InDelta(t, 0.5, dets[0].Box.CenterX, 1e-6)
			assert.InDelta(t, 0.2, dets[0].Box.Width, 1e-6)

			assert.Equal(t, 2, dets[1].ID)
			assert.Equal(t, "starfish", dets[1].Class)
			assert.InDelta(t, 0.6, dets[1].Confidence, 1e-6)
			assert.InDelta(t, 0.5, dets[1].Box.CenterX, 1e-6, "320px on a 640px input is 0.5")
			assert.InDelta(t, 0.25, dets[1].Box.CenterY, 1e-6)
			assert.InDelta(t, 0.1, dets[1].Box.Width, 1e-6)
			assert.InDelta(t, 0.05, dets[1].Box.Height, 1e-6)

			assert.Zero(t, logs.Len(), "well-formed tensors produce no diagnostics")
		})
	}
}

// TestDecoder_CoordinateHeuristic pins the magnitude rule used to tell
// normalized coordinates from pixel coordinates.
func TestDecoder_CoordinateHeuristic(t *testing.T) {
	tests := []struct {
		name     string
		raw      float32
		expected float32
	}{
		{"normalized value kept", 0.95, 0.95},
		{"pixel value scaled", 320, 0.5},
		{"boundary 1.5 treated as normalized and clamped", 1.5, 1},
		{"just above boundary treated as pixels", 1.6, 1.6 / 640},
		{"negative normalized clamped", -0.2, 0},
		{"pixel beyond input clamped", 1280, 1},
		{"negative pixel clamped", -64, 0},
		// Known fragility: a genuine 1px coordinate is indistinguishable from a
		// normalized one and is read as 1.0 of the image.
		{"one pixel read as normalized", 1, 1},
		{"positive infinity", math32.Inf(1), 1},
		{"NaN", math32.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newObservedDecoder(0.1)
			tensor := NewRawTensor([]float32{tt.raw, 0.5, 0.5, 0.5, 1, 0.9, 0, 0, 0, 0, 0}, 1, 1, 11)

			dets := d.DecodeTensor(tensor)
			require.Len(t, dets, 1)
			assert.InDelta(t, tt.expected, dets[0].Box.CenterX, 1e-6)
		})
	}
}

func TestDecoder_ObjectnessChannel(t *testing.T) {
	tests := []struct {
		name     string
		row      []float32
		class    string
		expected float32
	}{
		{
			name:     "no objectness channel",
			row:      []float32{0.5, 0.5, 0.1, 0.1, 0.1, 0.7, 0, 0, 0, 0},
			class:    "small_fish",
			expected: 0.7,
		},
		{
			name:     "objectness with extra trailing value",
			row:      []float32{0.5, 0.5, 0.1, 0.1, 0.5, 0, 0, 0.8, 0, 0, 0, 0.99},
			class:    "crab",
			expected: 0.4,
		},
		{
			name:     "scores clamped before multiplying",
			row:      []float32{0.5, 0.5, 0.1, 0.1, 1.4, 0, 0, 0, 1.7, 0, 0},
			class:    "jellyfish",
			expected: 1,
		},
		{
			name:     "ties keep the lowest class index",
			row:      []float32{0.5, 0.5, 0.1, 0.1, 1, 0, 0.6, 0, 0.6, 0, 0},
			class:    "small_fish",
			expected: 0.6,
		},
		{
			name:     "threshold is inclusive",
			row:      []float32{0.5, 0.5, 0.1, 0.1, 0.5, 0, 0, 0, 0, 0.5, 0},
			class:    "shrimp",
			expected: 0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newObservedDecoder(DefaultConfidenceThreshold)

			dets := d.DecodeTensor(NewRawTensor(tt.row, 1, len(tt.row)))
			require.Len(t, dets, 1)
			assert.Equal(t, tt.class, dets[0].Class)
			assert.InDelta(t, tt.expected, dets[0].Confidence, 1e-6)
		})
	}
}

func TestDecoder_DropsBelowThreshold(t *testing.T) {
	d, _ := newObservedDecoder(DefaultConfidenceThreshold)

	dets := d.DecodeTensor(detectionsMajor([][]float32{
		{0.5, 0.5, 0.1, 0.1, 1, 0.2, 0, 0, 0, 0, 0},
		{0.5, 0.5, 0.1, 0.1, math32.NaN(), 0.9, 0, 0, 0, 0, 0},
	}))

	assert.NotNil(t, dets)
	assert.Empty(t, dets, "0.2 and NaN-objectness candidates must both be dropped")
}

func TestDecoder_TaxonomyMismatch(t *testing.T) {
	d, logs := newObservedDecoder(DefaultConfidenceThreshold)

	dets := d.DecodeTensor(NewRawTensor([]float32{0.5, 0.5, 0.1, 0.1, 0.5, 0.5, 0.1, 0.1}, 2, 4))

	assert.NotNil(t, dets)
	assert.Empty(t, dets)
	assert.Equal(t, 1, logs.FilterMessage("no usable class scores in model output").Len())
}

func TestDecoder_PartialTaxonomy(t *testing.T) {
	d, logs := newObservedDecoder(DefaultConfidenceThreshold)

	// Seven values per detection: no objectness, three usable classes.
	dets := d.DecodeTensor(NewRawTensor([]float32{0.5, 0.5, 0.1, 0.1, 0, 0, 0.9}, 1, 7))

	require.Len(t, dets, 1)
	assert.Equal(t, "crab", dets[0].Class)
	assert.Equal(t, 1, logs.FilterMessage("model output covers part of the taxonomy").Len())
}

func TestDecoder_FallbackLayoutIsLogged(t *testing.T) {
	d, logs := newObservedDecoder(DefaultConfidenceThreshold)

	layout := d.Resolve(NewRawTensor(make([]float32, 84*3), 1, 84, 3))

	assert.Equal(t, ValuesMajor, layout.Orientation)
	entries := logs.FilterMessage("using best-effort tensor layout").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
}

func TestDecoder_TruncatedTensor(t *testing.T) {
	d, logs := newObservedDecoder(DefaultConfidenceThreshold)

	full := detectionsMajor([][]float32{
		{0.5, 0.5, 0.1, 0.1, 1, 0.9, 0, 0, 0, 0, 0},
		{0.2, 0.2, 0.1, 0.1, 1, 0.9, 0, 0, 0, 0, 0},
		{0.8, 0.8, 0.1, 0.1, 1, 0.9, 0, 0, 0, 0, 0},
	})
	short := RawTensor{Data: full.Data[:25], Shape: full.Shape}

	dets := d.DecodeTensor(short)
	assert.Len(t, dets, 2)
	assert.Equal(t, 1, logs.FilterMessage("decoding a truncated tensor").Len())
}

func TestDecoder_ZeroValueIsUsable(t *testing.T) {
	d := &Decoder{Classes: testClasses, InputWidth: 640, InputHeight: 640}

	dets := d.DecodeTensor(NewRawTensor([]float32{0.5, 0.5, 0.1, 0.1, 1, 0.9, 0, 0, 0, 0, 0}, 1, 11))
	assert.Len(t, dets, 1)
}

// TestDecoder_OutputRanges checks that arbitrary tensors never produce
// confidences or coordinates outside [0, 1].
func TestDecoder_OutputRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d, _ := newObservedDecoder(0)

	for _, orientation := range []Orientation{DetectionsMajor, ValuesMajor} {
		rows := make([][]float32, 200)
		for i := range rows {
			rows[i] = make([]float32, 11)
			for k := range rows[i] {
				rows[i][k] = (rng.Float32() - 0.25) * 1000 * float32(rng.Intn(2))
				if rng.Intn(3) == 0 {
					rows[i][k] = rng.Float32()*3 - 1
				}
			}
		}

		tensor := detectionsMajor(rows)
		if orientation == ValuesMajor {
			tensor = valuesMajor(rows)
		}

		for _, det := range d.DecodeTensor(tensor) {
			assert.GreaterOrEqual(t, det.Confidence, float32(0))
			assert.LessOrEqual(t, det.Confidence, float32(1))
			for _, v := range []float32{det.Box.CenterX, det.Box.CenterY, det.Box.Width, det.Box.Height} {
				assert.GreaterOrEqual(t, v, float32(0))
				assert.LessOrEqual(t, v, float32(1))
			}
			assert.Contains(t, testClasses, det.Class)
		}
	}
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "fish", ClassName(testClasses, 0))
	assert.Equal(t, "starfish", ClassName(testClasses, 5))
	assert.Equal(t, "class_6", ClassName(testClasses, 6))
	assert.Equal(t, "class_-1", ClassName(testClasses, -1))
}

func TestFilterByConfidence(t *testing.T) {
	dets := []Detection{{ID: 0, Confidence: 0.4}, {ID: 1, Confidence: 0.5}, {ID: 2, Confidence: 0.9}}

	out := FilterByConfidence(dets, 0.5)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].ID)
	assert.Equal(t, 2, out[1].ID)
	assert.Len(t, dets, 3, "input must not be modified")
}
