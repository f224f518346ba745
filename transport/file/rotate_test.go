package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/labiium/pytestlab/transport/file"
)

func TestWriteBelowMaxBytesNeverRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	rf, err := file.NewRotatingFile(file.RotateConfig{FilePath: path, MaxBytes: 1 << 20}, nil)
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("line one\n"))
	require.NoError(t, err)

	_, statErr := os.Stat(path + ".1.zst")
	require.True(t, os.IsNotExist(statErr))
}

func TestRotationCompressesSealedSegment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	rf, err := file.NewRotatingFile(file.RotateConfig{FilePath: path, MaxBytes: 16}, nil)
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("0123456789\n"))
	require.NoError(t, err)

	backup := path + ".1.zst"
	require.FileExists(t, backup)

	compressed, err := os.ReadFile(backup)
	require.NoError(t, err)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	decoded, err := dec.DecodeAll(compressed, nil)
	require.NoError(t, err)
	require.Equal(t, "0123456789\n", string(decoded))

	_, statErr := os.Stat(path + ".1")
	require.True(t, os.IsNotExist(statErr), "uncompressed sealed segment should be removed")
}

func TestMaxBackupsPrunesOldestCompressedSegment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	rf, err := file.NewRotatingFile(file.RotateConfig{FilePath: path, MaxBytes: 4, MaxBackups: 2}, nil)
	require.NoError(t, err)
	defer rf.Close()

	for i := 0; i < 6; i++ {
		_, err := rf.Write([]byte("xxxxx\n"))
		require.NoError(t, err)
	}

	require.FileExists(t, path+".1.zst")
	require.FileExists(t, path+".2.zst")
	_, statErr := os.Stat(path + ".3.zst")
	require.True(t, os.IsNotExist(statErr))
}
