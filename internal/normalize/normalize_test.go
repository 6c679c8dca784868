package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToInstant(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value interface{}
		want  time.Time
	}{
		{"zulu string", "2024-01-01T00:00:00Z", want},
		{"offset string", "2024-01-01T02:00:00+02:00", want},
		{"wazuh offset", "2024-01-01T00:00:00.000+0000", want},
		{"naive string", "2024-01-01T00:00:00", want},
		{"space separated", "2024-01-01 00:00:00", want},
		{"fractional naive", "2024-01-01T00:00:00.250", want.Add(250 * time.Millisecond)},
		{"epoch string", "1704067200", want},
		{"epoch float", float64(1704067200.5), want.Add(500 * time.Millisecond)},
		{"epoch int", 1704067200, want},
		{"json number", json.Number("1704067200"), want},
		{"time value", want.In(time.FixedZone("X", 3600)), want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToInstant(tt.value)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestToInstantInvalid(t *testing.T) {
	for _, v := range []interface{}{nil, "", "not a date", map[string]interface{}{}, time.Time{}} {
		_, err := ToInstant(v)
		assert.ErrorIs(t, err, ErrInvalidTimestamp, "value %#v", v)
	}
}

func TestFormatISO(t *testing.T) {
	ts := time.Date(2024, 1, 1, 1, 0, 0, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-01-01T00:00:00Z", FormatISO(ts))
	assert.Equal(t, "", FormatISO(time.Time{}))
}

func TestTechniqueID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"T1059", "T1059", true},
		{"  t1078.003 ", "T1078.003", true},
		{"technique/T1082", "T1082", true},
		{"TECHNIQUE/ t1082", "T1082", true},
		{"1059", "", false},
		{"attack.execution", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := TechniqueID(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func rawTechniques(raw interface{}) []string {
	set := make(TechniqueSet)
	set.AddRaw(raw)
	return set.Sorted()
}

func TestAddRawIdempotent(t *testing.T) {
	inputs := []interface{}{
		"t1059",
		"TECHNIQUE/TECHNIQUE/t1003",
		[]interface{}{"T1059", "t1082", "x", 42, nil},
		[]string{" technique/t1548.001 ", "T1548.001"},
	}
	for _, in := range inputs {
		once := rawTechniques(in)
		assert.Equal(t, once, rawTechniques(once))
		for _, id := range once {
			again, ok := TechniqueID(id)
			require.True(t, ok)
			assert.Equal(t, id, again)
		}
	}
}

func TestAddRawList(t *testing.T) {
	got := rawTechniques([]interface{}{"t1082", "T1059", "T1059", "mitre"})
	assert.Equal(t, []string{"T1059", "T1082"}, got)
	assert.Empty(t, rawTechniques(nil))
	assert.Empty(t, rawTechniques(map[string]interface{}{"id": "T1059"}))
}

func TestTechniqueSetOperations(t *testing.T) {
	op := NewTechniqueSet("T1059", "T1082", "T1003")
	found := NewTechniqueSet("T1059", "T9999")

	matched := op.Intersect(found)
	undetected := op.Difference(matched)

	assert.Equal(t, []string{"T1059"}, matched.Sorted())
	assert.Equal(t, []string{"T1003", "T1082"}, undetected.Sorted())
	assert.ElementsMatch(t, op.Sorted(), append(matched.Sorted(), undetected.Sorted()...))
	assert.Empty(t, matched.Intersect(undetected))
}
