package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasm-arena/internal/plugin/wasm/wasmtest"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tictactoe.wasm"), []byte("x"))
	writeFile(t, filepath.Join(dir, "tictactoe.json"), []byte(`{"name":"TTT"}`))
	writeFile(t, filepath.Join(dir, "chess.wasm"), []byte("x"))
	writeFile(t, filepath.Join(dir, "chess.yml"), []byte("name: Chess"))
	writeFile(t, filepath.Join(dir, "bare.wasm"), []byte("x"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("x"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.wasm"), 0o755))

	got, err := ScanDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, []Candidate{
		{Name: "bare", ModulePath: filepath.Join(dir, "bare.wasm")},
		{Name: "chess", ModulePath: filepath.Join(dir, "chess.wasm"), MetadataPath: filepath.Join(dir, "chess.yml")},
		{Name: "tictactoe", ModulePath: filepath.Join(dir, "tictactoe.wasm"), MetadataPath: filepath.Join(dir, "tictactoe.json")},
	}, got)
}

func TestScanDirectory_Missing(t *testing.T) {
	got, err := ScanDirectory(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadCandidate_NamesBareModules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reversi.wasm")
	writeFile(t, path, []byte("bytes"))

	module, meta, err := ReadCandidate(Candidate{Name: "reversi", ModulePath: path})
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), module)
	assert.Equal(t, "reversi", meta.Name)
}

func TestLoader_LoadDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ttt.wasm"), wasmtest.Module(wasmtest.Options{}))
	writeFile(t, filepath.Join(dir, "ttt.yaml"), []byte("name: Tic-Tac-Toe\ndifficulty: easy\n"))
	writeFile(t, filepath.Join(dir, "broken.wasm"), []byte("junk"))

	l, _ := newLoader(t, wasmtest.TicTacToe{}, newMemStore())
	loaded, err := l.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Tic-Tac-Toe", loaded[0].Info().Name)

	// Same bytes are not loaded again.
	again, err := l.LoadDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, 1, l.Registry().Len())
}
