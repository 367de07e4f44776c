// Package census reads the family-size distribution and the value/behavior
// dimension files that seed a run.
package census

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/talgya/iris/internal/agents"
)

var (
	// ErrSizeRequirement is returned when the behavior line is longer than the
	// value line, or when a file has the wrong number of lines.
	ErrSizeRequirement = errors.New("size requirement violated")

	// ErrBijectivity is returned when a behavior dimension's category count
	// differs from the value dimension it aliases.
	ErrBijectivity = errors.New("values do not match behaviors")

	// ErrCategoryLimit is returned when a dimension has more than
	// agents.MaxCategories categories.
	ErrCategoryLimit = errors.New("too many categories")
)

// Dimensions holds the category count of each value dimension and of the
// leading behavior dimensions.
type Dimensions struct {
	Values    agents.BehaviorList `json:"values"`
	Behaviors agents.BehaviorList `json:"behaviors"`
}

func readRecords(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	// Repeated separators collapse, matching hand-edited files like "0.2,,0.8".
	for i, rec := range records {
		kept := rec[:0]
		for _, f := range rec {
			if f = strings.TrimSpace(f); f != "" {
				kept = append(kept, f)
			}
		}
		records[i] = kept
	}
	return records, nil
}

// ParseCensus reads the first line of r as comma-separated family-size shares.
// The share at position i is for families of size i+1.
func ParseCensus(r io.Reader) ([]float64, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, fmt.Errorf("parsing census: %w", err)
	}
	if len(records) == 0 || len(records[0]) == 0 {
		return nil, fmt.Errorf("parsing census: %w: no data", ErrSizeRequirement)
	}

	shares := make([]float64, 0, len(records[0]))
	for _, field := range records[0] {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing census: %w", err)
		}
		shares = append(shares, v)
	}
	return shares, nil
}

// ParseDimensions reads a values file: the first line lists category counts
// per value dimension and an optional second line lists behavior dimensions.
// With one line the behaviors equal the values.
func ParseDimensions(r io.Reader) (Dimensions, error) {
	var dims Dimensions
	records, err := readRecords(r)
	if err != nil {
		return dims, fmt.Errorf("parsing values: %w", err)
	}
	switch len(records) {
	case 0:
		return dims, fmt.Errorf("parsing values: %w: file is empty", ErrSizeRequirement)
	case 1, 2:
	default:
		return dims, fmt.Errorf("parsing values: %w: expected at most 2 lines, got %d", ErrSizeRequirement, len(records))
	}

	if dims.Values, err = parseCounts(records[0]); err != nil {
		return dims, fmt.Errorf("parsing values: %w", err)
	}
	if len(records) == 1 {
		dims.Behaviors = append(agents.BehaviorList(nil), dims.Values...)
	} else if dims.Behaviors, err = parseCounts(records[1]); err != nil {
		return dims, fmt.Errorf("parsing behaviors: %w", err)
	}

	if err := dims.Validate(); err != nil {
		return dims, err
	}
	return dims, nil
}

// Validate checks that behaviors are a positional prefix of values and that
// no dimension exceeds agents.MaxCategories.
func (d Dimensions) Validate() error {
	if len(d.Values) < len(d.Behaviors) {
		return fmt.Errorf("%w: %d values for %d behaviors", ErrSizeRequirement, len(d.Values), len(d.Behaviors))
	}
	for i, v := range d.Values {
		if v > agents.MaxCategories {
			return fmt.Errorf("%w: dimension %d has %d, at most %d allowed", ErrCategoryLimit, i, v, agents.MaxCategories)
		}
	}
	for i, b := range d.Behaviors {
		if d.Values[i] != b {
			return fmt.Errorf("%w: %d != %d at dimension %d", ErrBijectivity, d.Values[i], b, i)
		}
	}
	return nil
}

func parseCounts(fields []string) (agents.BehaviorList, error) {
	out := make(agents.BehaviorList, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

// ReadCensus opens and parses a census file.
func ReadCensus(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading census: %w", err)
	}
	defer f.Close()
	return ParseCensus(f)
}

// ReadDimensions opens and parses a values file.
func ReadDimensions(path string) (Dimensions, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dimensions{}, fmt.Errorf("reading values: %w", err)
	}
	defer f.Close()
	return ParseDimensions(f)
}
