package gan

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/layout"
	"gonum.org/v1/gonum/mat"
)

var ErrBadSnapshot = errors.New("gan: malformed snapshot")

const (
	snapshotMagic   = "CSDG"
	snapshotVersion = 1
)

// #region snapshot

// Snapshot is a frozen generator: configuration, output layout and parameters.
// It owns its data and is never mutated after creation.
type Snapshot struct {
	Config GeneratorConfig
	Layout []layout.Column
	Params [][]float64
}

type snapshotHeader struct {
	Version int             `json:"version"`
	Config  GeneratorConfig `json:"config"`
	Layout  []layout.Column `json:"layout"`
	Sizes   []int           `json:"sizes"`
}

// MarshalBinary encodes the snapshot as magic, header length, JSON header and the
// parameters as little-endian float64s.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	h := snapshotHeader{Version: snapshotVersion, Config: s.Config, Layout: s.Layout}
	total := 0
	for _, p := range s.Params {
		h.Sizes = append(h.Sizes, len(p))
		total += len(p)
	}
	header, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("gan: encode snapshot header: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(snapshotMagic) + 4 + len(header) + 8*total)
	buf.WriteString(snapshotMagic)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(header)))
	buf.Write(header)
	word := make([]byte, 8)
	for _, p := range s.Params {
		for _, v := range p {
			binary.LittleEndian.PutUint64(word, math.Float64bits(v))
			buf.Write(word)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a MarshalBinary blob.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	if len(data) < len(snapshotMagic)+4 || string(data[:len(snapshotMagic)]) != snapshotMagic {
		return fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	data = data[len(snapshotMagic):]
	n := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	if n > len(data) {
		return fmt.Errorf("%w: header length %d exceeds blob", ErrBadSnapshot, n)
	}
	var h snapshotHeader
	if err := json.Unmarshal(data[:n], &h); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if h.Version != snapshotVersion {
		return fmt.Errorf("%w: version %d", ErrBadSnapshot, h.Version)
	}
	data = data[n:]

	total := 0
	for _, size := range h.Sizes {
		if size < 0 {
			return fmt.Errorf("%w: negative tensor size", ErrBadSnapshot)
		}
		total += size
	}
	if len(data) != 8*total {
		return fmt.Errorf("%w: payload has %d bytes, want %d", ErrBadSnapshot, len(data), 8*total)
	}
	params := make([][]float64, len(h.Sizes))
	for i, size := range h.Sizes {
		params[i] = make([]float64, size)
		for j := range params[i] {
			params[i][j] = math.Float64frombits(binary.LittleEndian.Uint64(data))
			data = data[8:]
		}
	}

	*s = Snapshot{Config: h.Config, Layout: h.Layout, Params: params}
	return nil
}

// NewGeneratorFromSnapshot rebuilds a generator carrying the snapshot's parameters.
// seed replaces the stored seed so the rebuilt generator draws its own noise stream.
func NewGeneratorFromSnapshot(s *Snapshot, seed int64) (*Generator, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrBadSnapshot)
	}
	l, err := layout.New(s.Layout)
	if err != nil {
		return nil, fmt.Errorf("gan: snapshot layout: %w", err)
	}
	cfg := s.Config
	cfg.Seed = seed
	g, err := NewGenerator(cfg, l)
	if err != nil {
		return nil, err
	}
	if err := g.net.LoadParams(s.Params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return g, nil
}

// #endregion snapshot

// #region generate

// Dataset is a generated batch with its class indices.
type Dataset struct {
	Records *mat.Dense
	Labels  []int
}

// GenerateFor produces one record per class index, in chunks of at most chunk rows.
func (g *Generator) GenerateFor(idx []int, chunk int) (*mat.Dense, error) {
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrShape)
	}
	if chunk <= 0 {
		chunk = len(idx)
	}
	out := mat.NewDense(len(idx), g.codec.Layout().Width(), nil)
	for lo := 0; lo < len(idx); lo += chunk {
		hi := min(lo+chunk, len(idx))
		onehot, err := labels.OneHot(idx[lo:hi], g.cfg.LabelDim)
		if err != nil {
			return nil, err
		}
		s, err := g.Generate(g.SampleNoise(hi-lo), onehot)
		if err != nil {
			return nil, err
		}
		out.Slice(lo, hi, 0, g.codec.Layout().Width()).(*mat.Dense).Copy(s.Records)
	}
	return out, nil
}

// GenerateDataset draws size labels from dist and generates one record for each from
// a generator rebuilt from snapshot.
func GenerateDataset(s *Snapshot, size int, dist labels.Distribution, mode labels.SamplingMode, seed int64) (*Dataset, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrShape, size)
	}
	g, err := NewGeneratorFromSnapshot(s, seed)
	if err != nil {
		return nil, err
	}
	if dist.Len() != g.cfg.LabelDim {
		return nil, fmt.Errorf("%w: distribution has %d classes, generator expects %d", ErrShape, dist.Len(), g.cfg.LabelDim)
	}
	idx, err := dist.Sample(size, rand.New(rand.NewSource(seed+1)), mode)
	if err != nil {
		return nil, err
	}
	records, err := g.GenerateFor(idx, 0)
	if err != nil {
		return nil, err
	}
	return &Dataset{Records: records, Labels: idx}, nil
}

// #endregion generate
