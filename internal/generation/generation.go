// Package generation defines the generative model the allocation feeds and
// emits synthetic records from an allocation result.
//
// Models are trained per segment (for example one network per household
// type) and sampled conditioned on evidence such as the attributes of the
// household a person belongs to.
package generation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ricci-colasanti/synthbalance/internal/allocation"
	"github.com/ricci-colasanti/synthbalance/internal/inputs"
)

// DefaultSegment is the segment of samples when no segmenter is given.
const DefaultSegment = "one_segment"

// Tuple is one record, one value per model field.
type Tuple []string

// Evidence is an observed field value to condition on.
type Evidence struct {
	Field string
	Value string
}

// SegmentedSamples maps a segment to its training rows.
type SegmentedSamples map[string][]Tuple

// Structure lists, per node, the indices of its parents.
type Structure [][]int

// Trainer fits a model to segmented samples.
type Trainer interface {
	Train(ctx context.Context, samples SegmentedSamples, structure Structure) (Model, error)
}

// Model samples records of one segment given evidence.
type Model interface {
	Generate(segment string, evidence []Evidence, count int) ([]Tuple, error)
}

// Segmenter maps a sample row, keyed by column, to its segment.
type Segmenter func(row map[string]string) string

// Segment groups the fields of every row of t by segment. A row is repeated
// as many times as its integer weight column says; an empty weight field
// counts each row once.
func Segment(t inputs.Table, fields []string, weightField string, segmenter Segmenter) (SegmentedSamples, error) {
	if err := t.Require("sample", fields...); err != nil {
		return nil, err
	}
	if weightField != "" {
		if err := t.Require("sample", weightField); err != nil {
			return nil, err
		}
	}
	sel, err := t.Select(fields...)
	if err != nil {
		return nil, err
	}

	out := make(SegmentedSamples)
	for r, row := range t.Rows {
		segment := DefaultSegment
		if segmenter != nil {
			keyed := make(map[string]string, len(t.Columns))
			for i, c := range t.Columns {
				if i < len(row) {
					keyed[c] = row[i]
				}
			}
			segment = segmenter(keyed)
		}
		weight := 1
		if weightField != "" {
			raw := strings.TrimSpace(row[t.Index(weightField)])
			if weight, err = strconv.Atoi(raw); err != nil {
				return nil, fmt.Errorf("sample row %d: weight %q is not an integer: %w", r, raw, err)
			}
		}
		for i := 0; i < weight; i++ {
			out[segment] = append(out[segment], Tuple(sel.Rows[r]))
		}
	}
	return out, nil
}

// DefineStructure turns parent → children edges over nodes into a Structure.
// Parent indices are sorted.
func DefineStructure(nodes []string, edges map[string][]string) (Structure, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}
	parents := make([][]int, len(nodes))
	for parent, children := range edges {
		p, ok := index[parent]
		if !ok {
			return nil, fmt.Errorf("edge from unknown node %q", parent)
		}
		for _, child := range children {
			c, ok := index[child]
			if !ok {
				return nil, fmt.Errorf("edge to unknown node %q", child)
			}
			parents[c] = append(parents[c], p)
		}
	}
	for _, p := range parents {
		sort.Ints(p)
	}
	return Structure(parents), nil
}

// Generated is one emitted record and the household and tract it came from.
type Generated struct {
	Serial string
	Tract  string
	Values Tuple
}

// Emit asks model for count records of every (household, tract) pair of the
// allocation, in household then table order. segmentOf and evidenceOf supply
// the segment and evidence of a household; pairs with a zero count are
// skipped.
func Emit(ctx context.Context, model Model, res *allocation.Result,
	segmentOf func(serial string) string, evidenceOf func(serial string) []Evidence) ([]Generated, error) {
	var out []Generated
	for _, serial := range res.Serials() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		segment := DefaultSegment
		if segmentOf != nil {
			segment = segmentOf(serial)
		}
		var evidence []Evidence
		if evidenceOf != nil {
			evidence = evidenceOf(serial)
		}
		for _, c := range res.GetCounts(serial) {
			if c.Count <= 0 {
				continue
			}
			tuples, err := model.Generate(segment, evidence, c.Count)
			if err != nil {
				return nil, fmt.Errorf("generating household %s in tract %s: %w", serial, c.Tract, err)
			}
			if len(tuples) != c.Count {
				return nil, fmt.Errorf("generating household %s in tract %s: model returned %d records, want %d",
					serial, c.Tract, len(tuples), c.Count)
			}
			for _, tuple := range tuples {
				out = append(out, Generated{Serial: serial, Tract: c.Tract, Values: tuple})
			}
		}
	}
	return out, nil
}
