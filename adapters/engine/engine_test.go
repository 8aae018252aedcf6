package engine

import (
	"context"
	"math"
	"testing"

	"cosmopipe/internal"
	"cosmopipe/internal/errors"
	"cosmopipe/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name        string
		engine      string
		expectError bool
	}{
		{"default", "", false},
		{"reference", "reference", false},
		{"case insensitive", " Reference ", false},
		{"foreign library", "polychord", true},
		{"unknown", "emcee", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Open(tt.engine, internal.Discard)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.CodeForeignBoundary))
				assert.Nil(t, e)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "reference", e.Name())
		})
	}
}

func TestOpen_ForeignDiagnostic(t *testing.T) {
	_, err := Open("polychord", internal.Discard)
	assert.Contains(t, err.Error(), "could not be loaded")
	assert.Contains(t, err.Error(), "libchord")
}

// dumps records every dumper call
type dumps struct {
	calls   int
	ndead   int
	nlive   int
	npars   int
	dead    []float64
	logw    []float64
	logZ    float64
	logZErr float64
}

func (d *dumps) dumper(ndead, nlive, npars int, live, dead, logw []float64, logZ, logZErr float64) {
	d.calls++
	d.ndead, d.nlive, d.npars = ndead, nlive, npars
	d.dead = append([]float64(nil), dead...)
	d.logw = append([]float64(nil), logw...)
	d.logZ, d.logZErr = logZ, logZErr
}

// gaussian1D is a unit-normalised Gaussian likelihood on a uniform prior
// over [0, 1], so the evidence is close to one
func gaussian1D(d *dumps) ports.EngineCallbacks {
	return ports.EngineCallbacks{
		Prior: func(cube, physical []float64) { copy(physical, cube) },
		LogLike: func(physical, derived []float64) float64 {
			z := (physical[0] - 0.5) / 0.1
			derived[0] = 2 * physical[0]
			return -0.5*z*z - math.Log(0.1*math.Sqrt(2*math.Pi))
		},
		Dumper: d.dumper,
	}
}

func settings() ports.EngineSettings {
	return ports.EngineSettings{
		NDims:             1,
		NDerived:          1,
		LivePoints:        100,
		NumRepeats:        5,
		NPrior:            200,
		Tolerance:         0.1,
		LogZero:           -1e6,
		MaxIterations:     -1,
		CompressionFactor: math.Exp(-1),
		Seed:              7,
	}
}

func TestReference_EvidenceOfNormalisedGaussian(t *testing.T) {
	d := &dumps{}
	e := NewReference(internal.Discard)
	require.NoError(t, e.Run(context.Background(), settings(), gaussian1D(d)))

	assert.InDelta(t, 0, d.logZ, 0.4)
	assert.Greater(t, d.logZErr, 0.0)
	assert.Equal(t, 0, d.nlive)
	assert.Equal(t, 4, d.npars)
	assert.Len(t, d.logw, d.ndead)
	assert.Len(t, d.dead, d.ndead*d.npars)
	assert.Greater(t, d.calls, 1)

	// each dead point carries its derived value and a death likelihood
	// no lower than the one it was born above
	for i := 0; i < d.ndead; i++ {
		row := d.dead[i*4 : (i+1)*4]
		assert.InDelta(t, 2*row[0], row[1], 1e-12)
		assert.GreaterOrEqual(t, row[3], row[2])
	}
}

func TestReference_SeedIsReproducible(t *testing.T) {
	a, b := &dumps{}, &dumps{}
	e := NewReference(internal.Discard)
	require.NoError(t, e.Run(context.Background(), settings(), gaussian1D(a)))
	require.NoError(t, e.Run(context.Background(), settings(), gaussian1D(b)))
	assert.Equal(t, a.logZ, b.logZ)
	assert.Equal(t, a.ndead, b.ndead)
}

func TestReference_MaxIterations(t *testing.T) {
	s := settings()
	s.MaxIterations = 10
	s.NPrior = 0
	s.LivePoints = 20
	d := &dumps{}
	require.NoError(t, NewReference(internal.Discard).Run(context.Background(), s, gaussian1D(d)))
	// ten deaths plus the twenty live points retired at the end
	assert.Equal(t, 30, d.ndead)
}

func TestReference_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &dumps{}
	err := NewReference(internal.Discard).Run(ctx, settings(), gaussian1D(d))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReference_InvalidSettings(t *testing.T) {
	e := NewReference(internal.Discard)
	s := settings()
	s.NDims = 0
	assert.Error(t, e.Run(context.Background(), s, gaussian1D(&dumps{})))

	s = settings()
	s.LivePoints = 1
	assert.Error(t, e.Run(context.Background(), s, gaussian1D(&dumps{})))

	assert.Error(t, e.Run(context.Background(), settings(), ports.EngineCallbacks{}))
}

func TestLogAddExp(t *testing.T) {
	assert.InDelta(t, math.Log(3), logAddExp(math.Log(1), math.Log(2)), 1e-12)
	assert.Equal(t, 5.0, logAddExp(math.Inf(-1), 5))
	assert.Equal(t, 5.0, logAddExp(5, math.Inf(-1)))
}
