package mikrotik

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeUserLines(t *testing.T) {
	out := EncodeUserLines([]UserLine{
		{Username: "vx1", Password: "pw1", Profile: "daily", Comment: "RadMesh | LOCK=0"},
		{Username: "vx2", Password: "pw2", Profile: "weekly", Comment: ""},
	})
	assert.Equal(t, "vx1;pw1;daily;RadMesh | LOCK=0\nvx2;pw2;weekly;\n", out)
}

func TestEncodeProfileLines(t *testing.T) {
	out := EncodeProfileLines([]ProfileLine{
		{Name: "daily", SharedUsers: 1, RateLimit: "5M/5M"},
		{Name: "weekly", SharedUsers: 3, RateLimit: ""},
	})
	assert.Equal(t, "daily;1;5M/5M\nweekly;3;\n", out)
}

func TestDecodeUsageLines(t *testing.T) {
	body := "vx1;AA:BB:CC:DD:EE:FF;1024;2048;1h30m;RadMesh | ACT=3/5/2026 09:30:15\n" +
		"vx2;;0;0;;\n"

	records := DecodeUsageLines(body)
	require.Len(t, records, 2)

	assert.Equal(t, "vx1", records[0].Username)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", records[0].MAC)
	assert.Equal(t, int64(1024), records[0].BytesIn)
	assert.Equal(t, int64(2048), records[0].BytesOut)
	assert.Equal(t, "1h30m", records[0].Uptime)
	assert.Equal(t, "RadMesh | ACT=3/5/2026 09:30:15", records[0].Comment)

	assert.Equal(t, "vx2", records[1].Username)
	assert.Empty(t, records[1].Comment)
}

func TestDecodeUsageLinesSkipsMalformed(t *testing.T) {
	body := "\n" + // blank line
		"   \n" + // whitespace only
		"tooshort;mac;1;2\n" + // too few fields
		"vx1;mac;abc;2048;1h;ok comment\n" // unparsable counter -> zero

	records := DecodeUsageLines(body)
	require.Len(t, records, 1)
	assert.Equal(t, "vx1", records[0].Username)
	assert.Equal(t, int64(0), records[0].BytesIn)
	assert.Equal(t, int64(2048), records[0].BytesOut)
}

func TestDecodeUsageLinesCRLF(t *testing.T) {
	body := "vx1;mac;1;2;1m;comment\r\nvx2;mac;3;4;2m;comment\r\n"
	records := DecodeUsageLines(body)
	require.Len(t, records, 2)
	assert.Equal(t, "comment", records[0].Comment)
}

func TestDecodeUsageLinesCommentAbsorbsDelimiters(t *testing.T) {
	body := "vx1;mac;1;2;1m;RadMesh | LOCK=1; extra;fields | Act: 3/5/2026 10:00:00\n"
	records := DecodeUsageLines(body)
	require.Len(t, records, 1)
	assert.Equal(t, "RadMesh | LOCK=1; extra;fields | Act: 3/5/2026 10:00:00", records[0].Comment)
}

func TestHasActivationMarker(t *testing.T) {
	assert.True(t, HasActivationMarker("RadMesh | Act: 3/5/2026 10:00:00"))
	assert.True(t, HasActivationMarker("ACT=3/5/2026 10:00:00"))
	assert.True(t, HasActivationMarker("act= whatever"))
	assert.False(t, HasActivationMarker("RadMesh | LOCK=1"))
	assert.False(t, HasActivationMarker(""))
}

func TestParseActivationTime(t *testing.T) {
	tests := []struct {
		comment string
		want    time.Time
		ok      bool
	}{
		{"RadMesh | LOCK=0 | Act: 3/5/2026 09:30:15", time.Date(2026, 3, 5, 9, 30, 15, 0, time.UTC), true},
		{"ACT=12/31/2025 23:59:59", time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC), true},
		{"Act: 3/5/2026 09:30:15 | MB=1", time.Date(2026, 3, 5, 9, 30, 15, 0, time.UTC), true},
		// The on-login hook stamps `/system clock get date` verbatim:
		// month-name formatted before RouterOS 7.10, ISO after.
		{"ACT=dec/04/2025 10:00:00 | RadMesh | LOCK=1", time.Date(2025, 12, 4, 10, 0, 0, 0, time.UTC), true},
		{"ACT=Jan/02/2026 08:15:30", time.Date(2026, 1, 2, 8, 15, 30, 0, time.UTC), true},
		{"ACT=2025-12-04 10:00:00 | RadMesh", time.Date(2025, 12, 4, 10, 0, 0, 0, time.UTC), true},
		{"RadMesh | LOCK=1", time.Time{}, false},
		{"Act: not-a-date", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseActivationTime(tt.comment)
		assert.Equal(t, tt.ok, ok, tt.comment)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.comment)
		}
	}
}

func TestParseNameList(t *testing.T) {
	assert.Equal(t, []string{"vx1", "vx2", "vx3"}, ParseNameList("vx1,vx2,vx3"))
	assert.Equal(t, []string{"vx1", "vx2"}, ParseNameList(" vx1 , ,vx2,"))
	assert.Nil(t, ParseNameList(""))
	assert.Nil(t, ParseNameList(" , ,"))
}

func TestEncodeNameList(t *testing.T) {
	assert.Equal(t, "vx1\nvx2\n", EncodeNameList([]string{"vx1", "vx2"}))
	assert.Equal(t, "", EncodeNameList(nil))
}
