// Package harmonic builds the separable annual × diurnal harmonic basis used by
// the linear climate models.
//
// A model is a sum of parameter blocks. The offset block c0 is an annual
// harmonic series; each diurnal block a_m (b_m) is an annual harmonic series
// multiplied by cos(m·ω_d·hour) (sin(m·ω_d·hour)). Every block starts with a
// constant column followed by cos/sin pairs of increasing annual order:
//
//	[1, cos(ω_a·d), sin(ω_a·d), cos(2ω_a·d), sin(2ω_a·d), ...]
//
// with ω_a = 2π/365.242189 and ω_d = 2π/24. Exporters that re-implement the
// evaluator must keep exactly this ordering and these constants.
package harmonic

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownParameter = errors.New("unknown harmonic parameter")
	ErrInvalidOrder     = errors.New("invalid harmonic order")
)

const (
	OffsetName = "c0"
	RoleOffset = "offset"
)

// AnnualOrders overrides the annual harmonic order of individual parameter
// blocks, keyed by canonical block name ("c0", "a1", "b1", ...).
type AnnualOrders map[string]int

// Config holds the harmonic orders of a model.
type Config struct {
	NDiurnal       int
	DefaultNAnnual int
	AnnualPerParam AnnualOrders
}

// NewConfig validates the orders and returns a Config owning a copy of overrides.
func NewConfig(nDiurnal, defaultNAnnual int, overrides map[string]int) (Config, error) {
	orders := make(AnnualOrders, len(overrides))
	for name, n := range overrides {
		orders[name] = n
	}
	cfg := Config{NDiurnal: nDiurnal, DefaultNAnnual: defaultNAnnual, AnnualPerParam: orders}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks orders are non-negative and every override names a block
// that exists for NDiurnal.
func (c Config) Validate() error {
	if c.NDiurnal < 0 {
		return fmt.Errorf("%w: n_diurnal=%d", ErrInvalidOrder, c.NDiurnal)
	}
	if c.DefaultNAnnual < 0 {
		return fmt.Errorf("%w: default_n_annual=%d", ErrInvalidOrder, c.DefaultNAnnual)
	}

	known := make(map[string]bool)
	for _, name := range BlockNames(c.NDiurnal) {
		known[name] = true
	}

	names := make([]string, 0, len(c.AnnualPerParam))
	for name := range c.AnnualPerParam {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !known[name] {
			return fmt.Errorf("%w: %q (n_diurnal=%d)", ErrUnknownParameter, name, c.NDiurnal)
		}
		if n := c.AnnualPerParam[name]; n < 0 {
			return fmt.Errorf("%w: %s n_annual=%d", ErrInvalidOrder, name, n)
		}
	}
	return nil
}

// Clone returns a copy of c that shares no map with it.
func (c Config) Clone() Config {
	out := c
	if c.AnnualPerParam != nil {
		out.AnnualPerParam = make(AnnualOrders, len(c.AnnualPerParam))
		for name, n := range c.AnnualPerParam {
			out.AnnualPerParam[name] = n
		}
	}
	return out
}

// AnnualOrder returns the annual harmonic order used for the named block.
func (c Config) AnnualOrder(name string) int {
	if n, ok := c.AnnualPerParam[name]; ok {
		return n
	}
	return c.DefaultNAnnual
}

// BlockNames lists the canonical block names in layout order: c0, a1, b1, ..., aN, bN.
func BlockNames(nDiurnal int) []string {
	names := []string{OffsetName}
	for m := 1; m <= nDiurnal; m++ {
		names = append(names, "a"+strconv.Itoa(m), "b"+strconv.Itoa(m))
	}
	return names
}

// ParameterBlock locates one harmonic component inside the flat coefficient vector.
type ParameterBlock struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	NAnnual int    `json:"n_annual"`
	Start   int    `json:"start"`
	Length  int    `json:"length"`
}

func DiurnalCosRole(m int) string { return "diurnal_cos_" + strconv.Itoa(m) }
func DiurnalSinRole(m int) string { return "diurnal_sin_" + strconv.Itoa(m) }

// Diurnal reports the diurnal harmonic a block multiplies, 0 for the offset
// block, and whether it is the sine term.
func (b ParameterBlock) Diurnal() (order int, sine bool) {
	switch {
	case strings.HasPrefix(b.Role, "diurnal_cos_"):
		order, _ = strconv.Atoi(strings.TrimPrefix(b.Role, "diurnal_cos_"))
	case strings.HasPrefix(b.Role, "diurnal_sin_"):
		order, _ = strconv.Atoi(strings.TrimPrefix(b.Role, "diurnal_sin_"))
		sine = true
	}
	return order, sine
}

// Layout returns the contiguous, non-overlapping block layout for c.
func (c Config) Layout() []ParameterBlock {
	names := BlockNames(c.NDiurnal)
	layout := make([]ParameterBlock, 0, len(names))
	start := 0
	for i, name := range names {
		role := RoleOffset
		if i > 0 {
			m := (i + 1) / 2
			if i%2 == 1 {
				role = DiurnalCosRole(m)
			} else {
				role = DiurnalSinRole(m)
			}
		}
		n := c.AnnualOrder(name)
		length := 1 + 2*n
		layout = append(layout, ParameterBlock{
			Name:    name,
			Role:    role,
			NAnnual: n,
			Start:   start,
			Length:  length,
		})
		start += length
	}
	return layout
}

// NumFeatures is the coefficient-vector length, the sum of the block lengths.
func (c Config) NumFeatures() int {
	total := 0
	for _, b := range c.Layout() {
		total += b.Length
	}
	return total
}
