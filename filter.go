package molsearch

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// PropRange bounds a named molecular property. A nil bound is open.
type PropRange struct {
	// Min is the inclusive lower bound.
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	// Max is the inclusive upper bound.
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Contains reports whether v lies within the range.
func (r PropRange) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Filters restricts the neighbors the service returns.
// Both filters are evaluated by the service; Match mirrors them for local backends.
type Filters struct {
	// SimilarityThreshold keeps neighbors with similarity >= threshold.
	SimilarityThreshold *float64

	// PropRanges maps property names to accepted ranges.
	PropRanges map[string]PropRange
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return f.SimilarityThreshold == nil && len(f.PropRanges) == 0
}

// AboveThreshold reports whether a score passes the similarity threshold.
// A missing score fails any threshold.
func (f Filters) AboveThreshold(similarity *float64) bool {
	if f.SimilarityThreshold == nil {
		return true
	}
	return similarity != nil && *similarity >= *f.SimilarityThreshold
}

// InPropRange evaluates only the property ranges. A neighbor missing a filtered
// property is out of range.
func (f Filters) InPropRange(props map[string]float64) bool {
	for name, r := range f.PropRanges {
		v, ok := props[name]
		if !ok || !r.Contains(v) {
			return false
		}
	}
	return true
}

// MarshalPropRanges renders the ranges as the request body field value.
// An empty set renders as {}.
func (f Filters) MarshalPropRanges() json.RawMessage {
	if len(f.PropRanges) == 0 {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(f.PropRanges)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// PropNames returns the filtered property names in sorted order.
func (f Filters) PropNames() []string {
	names := make([]string, 0, len(f.PropRanges))
	for name := range f.PropRanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithSimilarityThreshold keeps neighbors scoring at least th.
func WithSimilarityThreshold(th float64) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		cfg.Filters.SimilarityThreshold = &th
	})
}

// WithPropRange restricts a property to [min, max]. Nil bounds are open.
func WithPropRange(name string, min, max *float64) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		if cfg.Filters.PropRanges == nil {
			cfg.Filters.PropRanges = make(map[string]PropRange)
		}
		cfg.Filters.PropRanges[name] = PropRange{Min: min, Max: max}
	})
}

// WithPropRanges merges a whole range map.
func WithPropRanges(ranges map[string]PropRange) SearchOption {
	return optionFunc(func(cfg *SearchConfig) {
		if len(ranges) == 0 {
			return
		}
		if cfg.Filters.PropRanges == nil {
			cfg.Filters.PropRanges = make(map[string]PropRange, len(ranges))
		}
		for name, r := range ranges {
			cfg.Filters.PropRanges[name] = r
		}
	})
}

// ParsePropRange parses "name=min:max". Either bound may be empty for an open range.
func ParsePropRange(s string) (string, PropRange, error) {
	s = strings.TrimSpace(s)
	name, bounds, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", PropRange{}, errors.Mark(errors.Newf("property range must be in name=min:max format: %q", s), ErrConfig)
	}

	lo, hi, ok := strings.Cut(bounds, ":")
	if !ok {
		return "", PropRange{}, errors.Mark(errors.Newf("property range must be in name=min:max format: %q", s), ErrConfig)
	}

	var r PropRange
	var err error
	if r.Min, err = parseBound(lo); err != nil {
		return "", PropRange{}, errors.Mark(errors.Wrapf(err, "min of %q", name), ErrConfig)
	}
	if r.Max, err = parseBound(hi); err != nil {
		return "", PropRange{}, errors.Mark(errors.Wrapf(err, "max of %q", name), ErrConfig)
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return "", PropRange{}, errors.Mark(errors.Newf("property range %q has min > max", name), ErrConfig)
	}
	return name, r, nil
}

func parseBound(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
