package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// LayoutBuffer holds the pre-computed layout of all requested trees as
// position-aligned columns. ParentID -1 marks a root.
type LayoutBuffer struct {
	NodeID   []int32
	ParentID []int32
	IsTip    []bool
	TreeIdx  []int32
	X        []float32
	Y        []float32
	Time     []float32
	Name     []string

	MutX       []float32
	MutY       []float32
	MutTreeIdx []int32
	MutNodeID  []int32
}

// Len returns the number of node rows.
func (b *LayoutBuffer) Len() int { return len(b.NodeID) }

// MutationCount returns the number of mutation rows.
func (b *LayoutBuffer) MutationCount() int { return len(b.MutX) }

// Validate checks that every column has the same length as NodeID and the
// mutation columns agree with each other.
func (b *LayoutBuffer) Validate() error {
	n := len(b.NodeID)
	for name, l := range map[string]int{
		"parent_id": len(b.ParentID),
		"is_tip":    len(b.IsTip),
		"tree_idx":  len(b.TreeIdx),
		"x":         len(b.X),
		"y":         len(b.Y),
		"time":      len(b.Time),
		"name":      len(b.Name),
	} {
		if l != n {
			return fmt.Errorf("column %s has %d rows, want %d", name, l, n)
		}
	}
	m := len(b.MutX)
	if len(b.MutY) != m || len(b.MutTreeIdx) != m || len(b.MutNodeID) != m {
		return errors.New("mutation columns have mismatched lengths")
	}
	return nil
}

const (
	layoutMagic   = "ARGL"
	layoutVersion = 1

	flagZstd byte = 1 << 0
)

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	return zstdEnc
}

func decoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdDec
}

// EncodeLayout serializes b into the columnar wire format, optionally
// zstd-compressing the column payload.
func EncodeLayout(b *LayoutBuffer, compress bool) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writeUvarint(&body, uint64(b.Len()))
	for _, col := range []any{b.NodeID, b.ParentID} {
		if err := binary.Write(&body, binary.LittleEndian, col); err != nil {
			return nil, err
		}
	}
	tips := make([]uint8, b.Len())
	for i, t := range b.IsTip {
		if t {
			tips[i] = 1
		}
	}
	body.Write(tips)
	for _, col := range []any{b.TreeIdx, b.X, b.Y, b.Time} {
		if err := binary.Write(&body, binary.LittleEndian, col); err != nil {
			return nil, err
		}
	}
	for _, name := range b.Name {
		writeUvarint(&body, uint64(len(name)))
		body.WriteString(name)
	}

	writeUvarint(&body, uint64(b.MutationCount()))
	for _, col := range []any{b.MutX, b.MutY, b.MutTreeIdx, b.MutNodeID} {
		if err := binary.Write(&body, binary.LittleEndian, col); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, body.Len()+6)
	out = append(out, layoutMagic...)
	out = append(out, layoutVersion)
	if compress {
		out = append(out, flagZstd)
		return encoder().EncodeAll(body.Bytes(), out), nil
	}
	out = append(out, 0)
	return append(out, body.Bytes()...), nil
}

// DecodeLayout parses the columnar wire format.
func DecodeLayout(data []byte) (*LayoutBuffer, error) {
	if len(data) < 6 || string(data[:4]) != layoutMagic {
		return nil, errors.New("layout buffer: bad magic")
	}
	if data[4] != layoutVersion {
		return nil, fmt.Errorf("layout buffer: unsupported version %d", data[4])
	}
	payload := data[6:]
	if data[5]&flagZstd != 0 {
		raw, err := decoder().DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("layout buffer: zstd decompress failed: %w", err)
		}
		payload = raw
	}

	r := bytes.NewReader(payload)
	n, err := readCount(r)
	if err != nil {
		return nil, fmt.Errorf("layout buffer: node count: %w", err)
	}

	b := &LayoutBuffer{
		NodeID:   make([]int32, n),
		ParentID: make([]int32, n),
		IsTip:    make([]bool, n),
		TreeIdx:  make([]int32, n),
		X:        make([]float32, n),
		Y:        make([]float32, n),
		Time:     make([]float32, n),
		Name:     make([]string, n),
	}
	for _, col := range []any{b.NodeID, b.ParentID} {
		if err := binary.Read(r, binary.LittleEndian, col); err != nil {
			return nil, fmt.Errorf("layout buffer: %w", err)
		}
	}
	tips := make([]byte, n)
	if _, err := io.ReadFull(r, tips); err != nil {
		return nil, fmt.Errorf("layout buffer: is_tip: %w", err)
	}
	for i, t := range tips {
		b.IsTip[i] = t != 0
	}
	for _, col := range []any{b.TreeIdx, b.X, b.Y, b.Time} {
		if err := binary.Read(r, binary.LittleEndian, col); err != nil {
			return nil, fmt.Errorf("layout buffer: %w", err)
		}
	}
	for i := range b.Name {
		l, err := readCount(r)
		if err != nil {
			return nil, fmt.Errorf("layout buffer: name %d: %w", i, err)
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("layout buffer: name %d: %w", i, err)
		}
		b.Name[i] = string(buf)
	}

	m, err := readCount(r)
	if err != nil {
		return nil, fmt.Errorf("layout buffer: mutation count: %w", err)
	}
	b.MutX = make([]float32, m)
	b.MutY = make([]float32, m)
	b.MutTreeIdx = make([]int32, m)
	b.MutNodeID = make([]int32, m)
	for _, col := range []any{b.MutX, b.MutY, b.MutTreeIdx, b.MutNodeID} {
		if err := binary.Read(r, binary.LittleEndian, col); err != nil {
			return nil, fmt.Errorf("layout buffer: %w", err)
		}
	}
	return b, nil
}

// readCount reads a uvarint row or byte count. Every counted item occupies at
// least one byte, so a count larger than the remaining payload is corrupt.
func readCount(r *bytes.Reader) (int, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	if v > uint64(r.Len()) {
		return 0, fmt.Errorf("count %d exceeds remaining payload", v)
	}
	return int(v), nil
}

func writeUvarint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}
