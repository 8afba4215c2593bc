package scheduleio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Schedule{Header: Header{Objective: 1, Distance: 1, Penalty: 0, Unproduced: 0, Undelivered: 0}}

	path, err := WriteFile(dir, s)
	require.NoError(t, err)
	require.FileExists(t, path)

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, s.Header, got.Header)
}

func TestWriteFileProducesDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	s := Schedule{Header: Header{Objective: 1, Distance: 1, Penalty: 0, Unproduced: 0, Undelivered: 0}}

	path1, err := WriteFile(dir, s)
	require.NoError(t, err)
	path2, err := WriteFile(dir, s)
	require.NoError(t, err)
	require.NotEqual(t, path1, path2, "every iteration must write its own distinct output file")
}
