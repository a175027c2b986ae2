package digest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Algorithm
		wantErr bool
	}{
		{name: "empty defaults to sha256", input: "", want: SHA256},
		{name: "sha256", input: "sha256", want: SHA256},
		{name: "md5", input: "md5", want: MD5},
		{name: "xxhash", input: "xxhash", want: XXHash},
		{name: "unknown", input: "crc32", wantErr: true},
		{name: "case sensitive", input: "SHA256", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKnownDigests(t *testing.T) {
	// well-known digests of the empty input
	tests := []struct {
		algo Algorithm
		want string
	}{
		{algo: SHA256, want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{algo: MD5, want: "d41d8cd98f00b204e9800998ecf8427e"},
		{algo: XXHash, want: "ef46db3751d8e999"},
	}

	for _, tt := range tests {
		t.Run(tt.algo.String(), func(t *testing.T) {
			got, err := tt.algo.Reader(bytes.NewReader(nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.txt")

	for _, algo := range Algorithms {
		t.Run(algo.String(), func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, []byte("test content"), 0644))

			hash1, err := algo.File(path)
			require.NoError(t, err)

			// stable across calls
			hash2, err := algo.File(path)
			require.NoError(t, err)
			assert.Equal(t, hash1, hash2)

			// changes with content
			require.NoError(t, os.WriteFile(path, []byte("different content"), 0644))
			hash3, err := algo.File(path)
			require.NoError(t, err)
			assert.NotEqual(t, hash1, hash3)
		})
	}
}

func TestFile_LargerThanChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	content := strings.Repeat("0123456789abcdef", (3*ChunkSize)/16+7)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	fromFile, err := SHA256.File(path)
	require.NoError(t, err)

	fromMemory, err := SHA256.Reader(strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, fromMemory, fromFile)
}

func TestFile_Missing(t *testing.T) {
	_, err := Default.File(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
