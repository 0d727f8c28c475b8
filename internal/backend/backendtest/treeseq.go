package backendtest

import (
	"encoding/json"
	"math"

	"github.com/argview/server/internal/backend"
)

// TreeSequence answers every backend method from an in-memory tree sequence
// where each local tree is a cherry of two tips.
type TreeSequence struct {
	Project     string
	Files       []string
	Breakpoints []float64
	MaxTime     float64
	Mutations   []backend.Mutation
}

// Handler returns a Handler serving ts.
func (ts *TreeSequence) Handler() Handler {
	return func(req Request) *Reply {
		switch req.Method {
		case backend.MethodQueryFile:
			return ts.queryFile(req)
		case backend.MethodQueryTreeLayout:
			return ts.queryLayout(req)
		case backend.MethodQueryMutationsWindow:
			var p struct {
				Start, End    float64
				Offset, Limit int
			}
			json.Unmarshal(req.Params, &p)
			return ts.page(func(m backend.Mutation) bool {
				return m.Position >= p.Start && m.Position <= p.End
			}, p.Offset, p.Limit)
		case backend.MethodSearchMutations:
			var p struct {
				Position, Range float64
				Offset, Limit   int
			}
			json.Unmarshal(req.Params, &p)
			return ts.page(func(m backend.Mutation) bool {
				return math.Abs(m.Position-p.Position) <= p.Range
			}, p.Offset, p.Limit)
		}
		return &Reply{OK: false, Code: backend.CodeInternal, Message: "unknown method " + req.Method}
	}
}

func (ts *TreeSequence) queryFile(req Request) *Reply {
	var ref backend.FileRef
	json.Unmarshal(req.Params, &ref)
	if len(ts.Files) > 0 {
		found := false
		for _, f := range ts.Files {
			if f == ref.File {
				found = true
				break
			}
		}
		if !found {
			return &Reply{OK: false, Code: backend.CodeFileNotFound, Message: "no such file: " + ref.File}
		}
	}
	n := len(ts.Breakpoints) - 1
	return &Reply{OK: true, Result: backend.FileInfo{
		OK:       true,
		Filename: ref.File,
		Project:  ref.Project,
		Config: backend.FileConfig{
			GenomeLength: ts.Breakpoints[n],
			NumTrees:     n,
			NumNodes:     3 * n,
			Breakpoints:  ts.Breakpoints,
			MinTime:      0,
			MaxTime:      ts.MaxTime,
		},
	}}
}

func (ts *TreeSequence) queryLayout(req Request) *Reply {
	var p struct {
		TreeIndices []int `json:"tree_indices"`
	}
	json.Unmarshal(req.Params, &p)

	buf := &backend.LayoutBuffer{}
	for _, idx := range p.TreeIndices {
		t := int32(idx)
		buf.NodeID = append(buf.NodeID, 0, 1, 2)
		buf.ParentID = append(buf.ParentID, -1, 0, 0)
		buf.IsTip = append(buf.IsTip, false, true, true)
		buf.TreeIdx = append(buf.TreeIdx, t, t, t)
		buf.X = append(buf.X, 0.5, 0, 1)
		buf.Y = append(buf.Y, 0, 1, 1)
		buf.Time = append(buf.Time, float32(ts.MaxTime), 0, 0)
		buf.Name = append(buf.Name, "", "a", "b")
		buf.MutX = append(buf.MutX, 0.25)
		buf.MutY = append(buf.MutY, 0.5)
		buf.MutTreeIdx = append(buf.MutTreeIdx, t)
		buf.MutNodeID = append(buf.MutNodeID, 1)
	}
	data, err := backend.EncodeLayout(buf, true)
	if err != nil {
		return &Reply{OK: false, Code: backend.CodeInternal, Message: err.Error()}
	}
	return &Reply{OK: true, Result: map[string]any{
		"buffer":          data,
		"tree_indices":    p.TreeIndices,
		"global_min_time": 0,
		"global_max_time": ts.MaxTime,
	}}
}

func (ts *TreeSequence) page(match func(backend.Mutation) bool, offset, limit int) *Reply {
	var hits []backend.Mutation
	for _, m := range ts.Mutations {
		if match(m) {
			hits = append(hits, m)
		}
	}
	total := len(hits)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return &Reply{OK: true, Result: backend.MutationPage{
		Mutations:  append([]backend.Mutation{}, hits[offset:end]...),
		TotalCount: total,
		HasMore:    end < total,
	}}
}
