package airway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationChestTypeRoundTrip(t *testing.T) {
	t.Parallel()

	for _, g := range States() {
		got, ok := GenerationFromChestType(g.ChestType())
		require.True(t, ok, "state %s", g)
		assert.Equal(t, g, got)
	}
}

func TestGenerationFromChestTypeForeignCode(t *testing.T) {
	t.Parallel()

	// Codes outside 0 and 38..48 are not airway generations.
	for _, code := range []uint8{1, 2, 37, 49, 255} {
		g, ok := GenerationFromChestType(code)
		assert.False(t, ok, "code %d", code)
		assert.Equal(t, GenUndefined, g)
	}
}

func TestParseGenerationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want Generation
		ok   bool
	}{
		{"AirwayGeneration0", Gen0, true},
		{"AirwayGeneration10", Gen10, true},
		{"UndefinedType", GenUndefined, true},
		{"AirwayGeneration11", GenUndefined, false},
		{"LeftLung", GenUndefined, false},
		{"", GenUndefined, false},
	}
	for _, tt := range tests {
		got, ok := ParseGenerationName(tt.name)
		assert.Equal(t, tt.ok, ok, "name %q", tt.name)
		assert.Equal(t, tt.want, got, "name %q", tt.name)
	}
}

func TestGenerationStringRoundTrip(t *testing.T) {
	t.Parallel()

	for _, g := range States() {
		got, ok := ParseGenerationName(g.String())
		require.True(t, ok, "state %s", g)
		assert.Equal(t, g, got)
	}
}
