package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomrisk/internal/matrix"
	"bloomrisk/internal/models"
)

func buildMatrix(t *testing.T, snapshot *string) *matrix.Matrix {
	t.Helper()
	table := models.NewTable(models.DefaultColumns().Required())
	for _, r := range [][]any{
		{"2020-01-10T09:30:00Z", "S1", "7887", 25.0, "ug/L"},
		{"2020-01-01T08:00:00Z", "S1", "348", 0.05, "mg/L"},
		{"2020-02-20T10:00:00Z", "S1", "7887", 10.0, "ug/L"},
	} {
		require.NoError(t, table.Append(r...))
	}

	cfg := matrix.DefaultConfig()
	cfg.SnapshotID = snapshot
	b, err := matrix.NewBuilder(table, cfg)
	require.NoError(t, err)
	m, err := b.Build(context.Background())
	require.NoError(t, err)
	return m
}

func TestFileName(t *testing.T) {
	cfg := matrix.DefaultConfig()
	assert.Equal(t, "features_unknown_snapshot_lb30_FEAT_V1.parquet", FileName(cfg))

	snap := "20260216T055951Z"
	cfg.SnapshotID = &snap
	cfg.LookbackDays = 14
	assert.Equal(t, "features_20260216T055951Z_lb14_FEAT_V1.parquet", FileName(cfg))
}

func TestWriteMatrix_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap := "SNAP"
	m := buildMatrix(t, &snap)

	paths, err := WriteMatrix(dir, m)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "features_SNAP_lb30_FEAT_V1.parquet"), paths.Data)
	assert.Equal(t, paths.Data+".meta.json", paths.Meta)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "no staging files are left behind")

	meta, err := ReadMetadata(paths.Meta)
	require.NoError(t, err)
	assert.Equal(t, "SNAP", *meta.SnapshotID)
	assert.Equal(t, 30, meta.LookbackDays)
	assert.Equal(t, []string{"348", "9686", "61"}, meta.PredictorIDs)
	assert.Equal(t, "7887", meta.TargetDeterminandID)
	assert.Equal(t, "2005-2025", meta.Window)
	assert.Equal(t, m.Fingerprint, meta.FeatureConfigFingerprint)
	assert.Equal(t, m.LabelFingerprint, meta.LabelConfigFingerprint)
	assert.Equal(t, 2, meta.NRows)
	assert.Equal(t, 1, meta.NPos)
	assert.Equal(t, 0.5, *meta.PosRate)
	assert.Equal(t, m.ColumnNames(), meta.Columns)

	table, err := ReadParquet(context.Background(), paths.Data)
	require.NoError(t, err)
	assert.Equal(t, m.ColumnNames(), table.Columns())
	require.Equal(t, 2, table.Len())

	y, err := table.Column("y")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(0)}, y)

	tp, err := table.Column("det_348")
	require.NoError(t, err)
	assert.Equal(t, []any{0.05, nil}, tp)

	ts, err := table.Column("phenomenonTime")
	require.NoError(t, err)
	require.IsType(t, time.Time{}, ts[0])
	assert.True(t, ts[0].(time.Time).Equal(time.Date(2020, 1, 10, 9, 30, 0, 0, time.UTC)))

	matched, err := table.Column("det_348__time")
	require.NoError(t, err)
	assert.Nil(t, matched[1])

	fp, err := table.Column("feature_config_fingerprint")
	require.NoError(t, err)
	assert.Equal(t, m.Fingerprint, fp[0])
}

func TestWriteMatrix_UnknownSnapshotIsNull(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteMatrix(dir, buildMatrix(t, nil))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(paths.Data, "features_unknown_snapshot_lb30_FEAT_V1.parquet"))

	table, err := ReadParquet(context.Background(), paths.Data)
	require.NoError(t, err)
	snap, err := table.Column("snapshot_id")
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil}, snap)

	meta, err := ReadMetadata(paths.Meta)
	require.NoError(t, err)
	assert.Nil(t, meta.SnapshotID)
}

func TestWriteMatrix_FailureLeavesNoOutput(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "out")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	_, err := WriteMatrix(blocker, buildMatrix(t, nil))
	require.Error(t, err)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteMatrix_SidecarCommitFailureDropsEarlierBuild(t *testing.T) {
	dir := t.TempDir()
	snap := "A"
	paths, err := WriteMatrix(dir, buildMatrix(t, &snap))
	require.NoError(t, err)
	require.FileExists(t, paths.Meta)

	rename = func(from, to string) error {
		if strings.HasSuffix(to, MetaSuffix) {
			return os.ErrPermission
		}
		return os.Rename(from, to)
	}
	t.Cleanup(func() { rename = os.Rename })

	_, err = WriteMatrix(dir, buildMatrix(t, &snap))
	require.Error(t, err)

	assert.NoFileExists(t, paths.Data)
	assert.NoFileExists(t, paths.Meta)
	metas, err := ListMetadata(dir)
	require.NoError(t, err)
	assert.Empty(t, metas)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged files are removed too")
}

func TestListMetadata(t *testing.T) {
	dir := t.TempDir()
	a, b := "A", "B"
	_, err := WriteMatrix(dir, buildMatrix(t, &b))
	require.NoError(t, err)
	_, err = WriteMatrix(dir, buildMatrix(t, &a))
	require.NoError(t, err)

	metas, err := ListMetadata(dir)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "features_A_lb30_FEAT_V1.parquet", metas[0].DataFile)
	assert.Equal(t, "features_B_lb30_FEAT_V1.parquet", metas[1].DataFile)

	missing, err := ListMetadata(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestWriteTable_InfersKinds(t *testing.T) {
	table := models.NewTable([]string{"phenomenonTime", "site", "result", "count"})
	ts := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, table.Append(ts, "S1", 1.5, int64(3)))
	require.NoError(t, table.Append(nil, "S2", "2.5", nil))

	path := filepath.Join(t.TempDir(), "clean", "table.parquet")
	require.NoError(t, WriteTable(path, table))

	got, err := ReadParquet(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, table.Columns(), got.Columns())
	assert.Equal(t, []any{ts, "S1", 1.5, int64(3)}, got.Row(0))
	assert.Equal(t, []any{nil, "S2", 2.5, nil}, got.Row(1))
}

func TestCSV_RoundTrip(t *testing.T) {
	table := models.NewTable([]string{"site", "result"})
	require.NoError(t, table.Append("S1", 2.5))
	require.NoError(t, table.Append("S2", nil))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table))
	assert.Equal(t, "site,result\nS1,2.5\nS2,\n", buf.String())

	path := filepath.Join(t.TempDir(), "obs.csv")
	require.NoError(t, os.WriteFile(path, append([]byte("\ufeff"), buf.Bytes()...), 0o644))

	got, err := ReadTable(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"site", "result"}, got.Columns())
	assert.Equal(t, []any{"S1", "2.5"}, got.Row(0))
	assert.Equal(t, []any{"S2", nil}, got.Row(1))
}

func TestWriteTable_CSV(t *testing.T) {
	table := models.NewTable([]string{"site", "y"})
	require.NoError(t, table.Append("S1", int64(1)))
	require.NoError(t, table.Append("S2", nil))

	path := filepath.Join(t.TempDir(), "out", "labelled.csv")
	require.NoError(t, WriteTable(path, table))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "site,y\nS1,1\nS2,\n", string(raw))
}

func TestReadTable_UnsupportedExtension(t *testing.T) {
	_, err := ReadTable(context.Background(), "obs.xlsx")
	assert.True(t, models.IsConfigError(err))

	_, err = ReadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "r.json")
	require.NoError(t, WriteJSON(path, map[string]int{"b": 2, "a": 1}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":2}`, string(raw))
}
