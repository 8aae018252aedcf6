package output

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"cosmopipe/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.OutputSink = (*Text)(nil)
	_ ports.OutputSink = Null{}
	_ ports.OutputSink = (*Postgres)(nil)
)

func TestText_Layout(t *testing.T) {
	var buf bytes.Buffer
	out := NewTextWriter(&buf)
	require.NoError(t, out.AddColumn("cosmological_parameters--omega_m", ""))
	require.NoError(t, out.AddColumn("post", ""))
	require.NoError(t, out.AddColumn("weight", ""))
	require.NoError(t, out.Metadata("sampler", "nested"))
	require.NoError(t, out.Metadata("live_points", 20))

	require.NoError(t, out.Parameters([]float64{0.3}, nil, -1.5, 0.25))
	require.NoError(t, out.Final("nsample", 1))
	require.NoError(t, out.Parameters([]float64{0.31}, nil, -1.25, 0.75))
	require.NoError(t, out.Final("nsample", 2))
	require.NoError(t, out.Final("log_z", -2.5))
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())

	assert.Equal(t,
		"#cosmological_parameters--omega_m\tpost\tweight\n"+
			"#sampler=nested\n"+
			"#live_points=20\n"+
			"0.3\t-1.5\t0.25\n"+
			"0.31\t-1.25\t0.75\n"+
			"#nsample=2\n"+
			"#log_z=-2.5\n",
		buf.String())
}

func TestText_Validation(t *testing.T) {
	out := NewTextWriter(&bytes.Buffer{})
	require.NoError(t, out.AddColumn("a", ""))
	assert.Error(t, out.Parameters([]float64{1, 2}, nil))
	require.NoError(t, out.Parameters([]float64{1}, nil))
	assert.Error(t, out.AddColumn("b", ""))
	assert.Error(t, out.Metadata("k", "v"))
}

func TestText_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains", "run.txt")
	out, err := NewText(path)
	require.NoError(t, err)
	for _, c := range []string{"x", "derived--s", "post", "weight"} {
		require.NoError(t, out.AddColumn(c, ""))
	}
	require.NoError(t, out.Metadata("run_id", "abc"))
	require.NoError(t, out.Parameters([]float64{1e-9}, []float64{math.NaN()}, -3, 1))
	require.NoError(t, out.Parameters([]float64{2.5}, []float64{4}, -1, 0.5))
	require.NoError(t, out.Final("log_z", -0.75))
	require.NoError(t, out.Close())

	chain, err := LoadText(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "derived--s", "post", "weight"}, chain.Columns)
	assert.Equal(t, "abc", chain.Metadata["run_id"])
	assert.Equal(t, "-0.75", chain.Finals["log_z"])
	require.Len(t, chain.Rows, 2)
	assert.Equal(t, 1e-9, chain.Rows[0][0])
	assert.True(t, math.IsNaN(chain.Rows[0][1]))

	post, ok := chain.Column("post")
	require.True(t, ok)
	assert.Equal(t, []float64{-3, -1}, post)
	_, ok = chain.Column("missing")
	assert.False(t, ok)
}

func TestText_HeaderOnlyOnClose(t *testing.T) {
	var buf bytes.Buffer
	out := NewTextWriter(&buf)
	require.NoError(t, out.AddColumn("a", ""))
	require.NoError(t, out.Final("nsample", 0))
	require.NoError(t, out.Close())
	assert.Equal(t, "#a\n#nsample=0\n", buf.String())
}

func TestLoadText_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, os.WriteFile(path, []byte("#a\tb\n1\n"), 0o644))
	_, err := LoadText(path)
	assert.Error(t, err)

	_, err = LoadText(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestNull(t *testing.T) {
	var n Null
	assert.NoError(t, n.AddColumn("a", ""))
	assert.NoError(t, n.Parameters([]float64{1}, nil, 2))
	assert.NoError(t, n.Final("x", 1))
	assert.NoError(t, n.Close())
}

func TestPostgres_RoundTrip(t *testing.T) {
	url := os.Getenv("COSMOPIPE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("COSMOPIPE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, url)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db))

	runID := uuid.New()
	sink := NewPostgres(ctx, db, runID)
	sink.BatchSize = 2
	require.NoError(t, sink.AddColumn("x", ""))
	require.NoError(t, sink.AddColumn("post", ""))
	require.NoError(t, sink.Metadata("sampler", "nested"))
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Parameters([]float64{float64(i)}, nil, -float64(i)))
	}
	require.NoError(t, sink.Final("log_z", -1.5))
	require.NoError(t, sink.Final("log_z", -1.25))
	require.NoError(t, sink.Close())

	run, err := LoadRun(ctx, db, runID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "post"}, run.Columns)
	assert.Equal(t, "nested", run.Metadata["sampler"])
	require.Len(t, run.Samples, 5)
	assert.Equal(t, []float64{3, -3}, run.Samples[3])
	assert.Equal(t, "-1.25", run.Finals["log_z"])
}
