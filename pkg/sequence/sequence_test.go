package sequence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncludeMergesAdjacentRanges(t *testing.T) {
	s := New()
	s.Include(1, 3)
	s.Include(7, 9)
	assert.Equal(t, []Range{{1, 3}, {7, 9}}, s.Ranges())

	s.Include(4, 6)
	assert.Equal(t, []Range{{1, 9}}, s.Ranges())
}

func TestIncludeOverlapping(t *testing.T) {
	s := New()
	s.Include(5, 10)
	s.Include(1, 7)
	assert.Equal(t, []Range{{1, 10}}, s.Ranges())

	s.Include(20, 30)
	s.Include(8, 25)
	assert.Equal(t, []Range{{1, 30}}, s.Ranges())
}

func TestIncludeOpenEnd(t *testing.T) {
	s := New()
	s.Include(10, Open)
	assert.Equal(t, []Range{{10, Open}}, s.Ranges())

	s.Include(1, 3)
	assert.Equal(t, []Range{{1, 3}, {10, Open}}, s.Ranges())

	s.Include(4, 12)
	assert.Equal(t, []Range{{1, Open}}, s.Ranges())
}

func TestIncludeSingleValues(t *testing.T) {
	s := New()
	s.Include(2, 2)
	s.Include(4, 4)
	s.Include(3, 3)
	assert.Equal(t, []Range{{2, 4}}, s.Ranges())
}

func TestExcludeSplitsRange(t *testing.T) {
	s := New()
	s.Include(1, 10)
	require.NoError(t, s.Exclude(4, 6))
	assert.Equal(t, []Range{{1, 3}, {7, 10}}, s.Ranges())
}

func TestExcludeAcrossRanges(t *testing.T) {
	s := New()
	s.Include(1, 3)
	s.Include(5, 9)
	s.Include(11, 20)
	require.NoError(t, s.Exclude(2, 12))
	assert.Equal(t, []Range{{1, 1}, {13, 20}}, s.Ranges())
}

func TestExcludeFromOpenRange(t *testing.T) {
	s := New()
	s.Include(1, Open)
	require.NoError(t, s.Exclude(1, 5))
	assert.Equal(t, []Range{{6, Open}}, s.Ranges())

	require.NoError(t, s.Exclude(10, 10))
	assert.Equal(t, []Range{{6, 9}, {11, Open}}, s.Ranges())
}

func TestExcludeRejectsOpenEnd(t *testing.T) {
	s := New()
	s.Include(1, 10)
	assert.Error(t, s.Exclude(3, Open))
	assert.Error(t, s.Exclude(7, 3))
}

func TestIncludeThenExcludeRestores(t *testing.T) {
	s := New()
	s.Include(1, 3)
	s.Include(10, 20)
	before := s.Ranges()

	s.Include(5, 7)
	require.NoError(t, s.Exclude(5, 7))
	assert.Equal(t, before, s.Ranges())
}

func TestFloor(t *testing.T) {
	s := New()
	s.Include(1, 5)
	s.Include(8, Open)
	s.Floor(10)
	assert.Equal(t, []Range{{1, 5}, {8, 10}}, s.Ranges())

	s.Floor(3)
	assert.Equal(t, []Range{{1, 3}}, s.Ranges())
}

func TestContainsFirstLast(t *testing.T) {
	s := New()
	assert.Equal(t, int64(0), s.First())
	assert.Equal(t, int64(0), s.Last())

	s.Include(3, 5)
	s.Include(9, Open)
	assert.True(t, s.Contains(4))
	assert.True(t, s.Contains(100))
	assert.False(t, s.Contains(6))
	assert.Equal(t, int64(3), s.First())
	assert.Equal(t, Open, s.Last())
}

func TestInitialStateAndClear(t *testing.T) {
	s := NewInitial(1, Open)
	assert.True(t, s.Empty())
	assert.Equal(t, []Range{{1, Open}}, s.Ranges())

	require.NoError(t, s.Exclude(1, 10))
	assert.False(t, s.Empty())

	s.Clear()
	assert.True(t, s.Empty())
	assert.Equal(t, []Range{{1, Open}}, s.Ranges())
}

func TestJSONRoundtrip(t *testing.T) {
	s := New()
	s.Include(1, 5)
	s.Include(9, Open)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `[[1,5],[9,null]]`, string(data))

	var decoded Sequence
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s.Ranges(), decoded.Ranges())
}

func TestIncludeExcludeSeq(t *testing.T) {
	s := NewInitial(1, Open)
	other := New()
	other.Include(1, 4)
	other.Include(7, 7)

	require.NoError(t, s.ExcludeSeq(other))
	assert.Equal(t, []Range{{5, 6}, {8, Open}}, s.Ranges())

	s2 := New()
	s2.IncludeSeq(other)
	assert.Equal(t, other.Ranges(), s2.Ranges())
}

func TestPersistentRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pull.sequence")

	p, err := OpenPersistent(path, Range{1, Open})
	require.NoError(t, err)
	assert.True(t, p.Empty())

	require.NoError(t, p.Exclude(1, 10))
	require.NoError(t, p.Commit())

	reloaded, err := OpenPersistent(path, Range{1, Open})
	require.NoError(t, err)
	assert.Equal(t, []Range{{11, Open}}, reloaded.Ranges())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
