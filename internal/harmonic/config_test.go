package harmonic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockNames(t *testing.T) {
	assert.Equal(t, []string{"c0"}, BlockNames(0))
	assert.Equal(t, []string{"c0", "a1", "b1", "a2", "b2", "a3", "b3"}, BlockNames(3))
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name      string
		nDiurnal  int
		nAnnual   int
		overrides map[string]int
		wantErr   error
	}{
		{"defaults", 3, 3, nil, nil},
		{"known override", 2, 3, map[string]int{"c0": 5, "b2": 1}, nil},
		{"zero orders", 0, 0, nil, nil},
		{"unknown block", 1, 3, map[string]int{"a2": 2}, ErrUnknownParameter},
		{"misspelled block", 3, 3, map[string]int{"C0": 2}, ErrUnknownParameter},
		{"negative override", 1, 3, map[string]int{"a1": -1}, ErrInvalidOrder},
		{"negative diurnal", -1, 3, nil, ErrInvalidOrder},
		{"negative annual", 1, -2, nil, ErrInvalidOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.nDiurnal, tt.nAnnual, tt.overrides)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewConfig_CopiesOverrides(t *testing.T) {
	overrides := map[string]int{"c0": 4}
	cfg, err := NewConfig(1, 2, overrides)
	require.NoError(t, err)

	overrides["c0"] = 9
	assert.Equal(t, 4, cfg.AnnualOrder("c0"))
	assert.Equal(t, 2, cfg.AnnualOrder("a1"))
}

func TestLayout_ContiguousBlocks(t *testing.T) {
	cfg, err := NewConfig(3, 3, map[string]int{"c0": 4, "a2": 1, "b3": 0})
	require.NoError(t, err)

	layout := cfg.Layout()
	require.Len(t, layout, 7)

	wantRoles := []string{
		"offset",
		"diurnal_cos_1", "diurnal_sin_1",
		"diurnal_cos_2", "diurnal_sin_2",
		"diurnal_cos_3", "diurnal_sin_3",
	}
	next := 0
	total := 0
	for i, b := range layout {
		assert.Equal(t, wantRoles[i], b.Role, b.Name)
		assert.Equal(t, next, b.Start, "block %s must start where the previous ended", b.Name)
		assert.Equal(t, 1+2*b.NAnnual, b.Length, b.Name)
		next = b.Start + b.Length
		total += b.Length
	}

	assert.Equal(t, 9, layout[0].Length)
	assert.Equal(t, 3, layout[3].Length)
	assert.Equal(t, 1, layout[6].Length)
	assert.Equal(t, total, cfg.NumFeatures())
}

func TestParameterBlock_Diurnal(t *testing.T) {
	cfg, err := NewConfig(2, 1, nil)
	require.NoError(t, err)

	type term struct {
		order int
		sine  bool
	}
	var got []term
	for _, b := range cfg.Layout() {
		order, sine := b.Diurnal()
		got = append(got, term{order, sine})
	}
	assert.Equal(t, []term{{0, false}, {1, false}, {1, true}, {2, false}, {2, true}}, got)
}
