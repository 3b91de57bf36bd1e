package kustoingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeParserDefaultLayouts(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, s := range []string{
		"2024-01-02T03:04:05Z",
		"2024-01-02T05:04:05+02:00",
		"2024-01-02T03:04:05",
		"2024-01-02 03:04:05",
		"01/02/2024 03:04:05",
		" 2024-01-02 03:04:05 ",
	} {
		got, err := TimeParser{}.Parse(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	got, err := TimeParser{}.Parse("2024-01-02 03:04:05.250")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, got.Sub(want))

	got, err = TimeParser{}.Parse("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), got)
}

func TestTimeParserLayoutAndLocation(t *testing.T) {
	loc := time.FixedZone("UTC+1", 3600)
	p := TimeParser{Layout: "02.01.2006 15:04", Location: loc}

	got, err := p.Parse("02.01.2024 10:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), got)

	_, err = p.Parse("2024-01-02")
	assert.Error(t, err)
}

func TestTimeParserInvalid(t *testing.T) {
	for _, s := range []string{"", "yesterday", "2024-13-45"} {
		_, err := TimeParser{}.Parse(s)
		assert.Error(t, err, s)
	}
}

func TestDecodeTimestampCell(t *testing.T) {
	dt := DataColumn{ColumnName: "ts", DataType: "DateTime"}
	got, ok, err := decodeTimestampCell(dt, "2024-01-01T00:00:00.0000000Z", TimeParser{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got)

	_, ok, err = decodeTimestampCell(dt, nil, TimeParser{})
	require.NoError(t, err)
	assert.False(t, ok)

	str := DataColumn{ColumnName: "ts", ColumnType: "string"}
	got, ok, err = decodeTimestampCell(str, "2024-01-01 12:00:00", TimeParser{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12, got.Hour())

	_, _, err = decodeTimestampCell(DataColumn{ColumnName: "n", DataType: "Int64"}, float64(3), TimeParser{})
	assert.Error(t, err)
	_, _, err = decodeTimestampCell(DataColumn{ColumnName: "n", ColumnType: "long"}, "3", TimeParser{})
	assert.Error(t, err)
}

func TestNormalizeDataType(t *testing.T) {
	assert.Equal(t, typeDateTime, normalizeDataType("System.DateTime"))
	assert.Equal(t, typeString, normalizeDataType("String"))
	assert.Equal(t, typeLong, normalizeDataType("Int64"))
	assert.Equal(t, typeReal, normalizeDataType("Double"))
	assert.Equal(t, typeBool, normalizeDataType("SByte"))
	assert.Equal(t, typeDynamic, normalizeDataType("Object"))
	assert.Equal(t, "custom", normalizeDataType("Custom"))
}
