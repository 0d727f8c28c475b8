// Package backend talks to the tree-sequence layout backend over a websocket
// request/acknowledgment protocol.
package backend

import "encoding/json"

// RPC method names.
const (
	MethodQueryTreeLayout      = "query_tree_layout"
	MethodQueryMutationsWindow = "query_mutations_window"
	MethodSearchMutations      = "search_mutations"
	MethodQueryFile            = "query_file"
)

// request is the client→backend envelope.
type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// message is any backend→client frame: either an acknowledgment (ID set) or
// a pushed event (Event set).
type message struct {
	ID          uint64          `json:"id,omitempty"`
	OK          bool            `json:"ok"`
	Code        string          `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	Recoverable bool            `json:"recoverable,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`

	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LayoutOptions accompanies a layout query.
type LayoutOptions struct {
	GenomicWindow      [2]float64 `json:"genomicWindow"`
	ActualDisplayArray []int      `json:"actualDisplayArray"`
}

type layoutParams struct {
	TreeIndices []int         `json:"tree_indices"`
	Options     LayoutOptions `json:"options"`
}

// LayoutResult is the decoded answer to a layout query.
type LayoutResult struct {
	Buffer        *LayoutBuffer
	TreeIndices   []int
	GlobalMinTime float64
	GlobalMaxTime float64
}

type layoutWire struct {
	Buffer        []byte  `json:"buffer"`
	TreeIndices   []int   `json:"tree_indices"`
	GlobalMinTime float64 `json:"global_min_time"`
	GlobalMaxTime float64 `json:"global_max_time"`
}

// Mutation is one mutation record.
type Mutation struct {
	ID           int64   `json:"id"`
	Position     float64 `json:"position"`
	Site         int64   `json:"site_id"`
	Node         int64   `json:"node_id"`
	TreeIndex    int     `json:"tree_index"`
	DerivedState string  `json:"derived_state"`
	Time         float64 `json:"time"`
}

// MutationPage is one page of mutation results.
type MutationPage struct {
	Mutations  []Mutation `json:"mutations"`
	TotalCount int        `json:"total_count"`
	HasMore    bool       `json:"has_more"`
}

type mutationWindowParams struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
}

type mutationSearchParams struct {
	Position float64 `json:"position"`
	Range    float64 `json:"range"`
	Offset   int     `json:"offset"`
	Limit    int     `json:"limit"`
}

// FileRef identifies a tree-sequence file on the backend.
type FileRef struct {
	Project string `json:"project"`
	File    string `json:"file"`
}

// FileConfig describes a loaded tree sequence.
type FileConfig struct {
	GenomeLength float64   `json:"genome_length"`
	NumTrees     int       `json:"num_trees"`
	NumNodes     int       `json:"num_nodes"`
	Breakpoints  []float64 `json:"breakpoints"`
	MinTime      float64   `json:"min_time"`
	MaxTime      float64   `json:"max_time"`
}

// FileInfo is the answer to a file query.
type FileInfo struct {
	OK       bool       `json:"ok"`
	Filename string     `json:"filename"`
	Project  string     `json:"project"`
	Config   FileConfig `json:"config"`
}
