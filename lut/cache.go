package lut

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/phosphor3d/phosphor/core"
	"github.com/phosphor3d/phosphor/half"
)

const (
	cacheMagic   = 0x544C5550 // "PULT"
	cacheVersion = 1
)

// DiskCache persists computed tables keyed by their geometry parameters.
// Entries are stored half-precision and zstd-compressed, which brings a
// 64x64 table pair from 64 KiB to a few hundred bytes for typical lenses.
// Every failure is logged and treated as a miss; the cache can never break
// table generation.
type DiskCache struct {
	dir string
	log core.Logger

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewDiskCache opens (creating if needed) a cache directory.
func NewDiskCache(dir string, log core.Logger) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lut: cache dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("lut: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("lut: zstd decoder: %w", err)
	}
	return &DiskCache{dir: dir, log: core.EnsureLogger(log), enc: enc, dec: dec}, nil
}

func cacheKey(p core.GeometryParams) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range []float64{p.Width, p.Height, p.DPR, p.K1, p.K2} {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return fmt.Sprintf("lut-%016x.bin", h.Sum64())
}

// Load returns the cached tables for the parameters, or ok=false on any
// miss or error.
func (c *DiskCache) Load(p core.GeometryParams) (*Tables, bool) {
	path := filepath.Join(c.dir, cacheKey(p))
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warnf("LUT cache read %s: %v", path, err)
		}
		return nil, false
	}

	c.mu.Lock()
	data, err := c.dec.DecodeAll(raw, nil)
	c.mu.Unlock()
	if err != nil {
		c.log.Warnf("LUT cache decompress %s: %v", path, err)
		return nil, false
	}

	t, err := unmarshalTables(data)
	if err != nil {
		c.log.Warnf("LUT cache entry %s: %v", path, err)
		return nil, false
	}
	return t, true
}

// Store writes the tables for the parameters. Errors are logged and
// swallowed.
func (c *DiskCache) Store(p core.GeometryParams, t *Tables) {
	if err := validateTables(t); err != nil {
		c.log.Warnf("LUT cache store: %v", err)
		return
	}

	data := marshalTables(t)
	c.mu.Lock()
	compressed := c.enc.EncodeAll(data, nil)
	c.mu.Unlock()

	path := filepath.Join(c.dir, cacheKey(p))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		c.log.Warnf("LUT cache write %s: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		c.log.Warnf("LUT cache rename %s: %v", path, err)
		os.Remove(tmp)
	}
}

// Layout: u32 magic, u16 version, u16 width, u16 height, then
// width*height*2 halves for the forward grid followed by the inverse grid.
func marshalTables(t *Tables) []byte {
	n := t.Width * t.Height * 2
	buf := make([]byte, 10+4*n)
	binary.LittleEndian.PutUint32(buf[0:], cacheMagic)
	binary.LittleEndian.PutUint16(buf[4:], cacheVersion)
	binary.LittleEndian.PutUint16(buf[6:], uint16(t.Width))
	binary.LittleEndian.PutUint16(buf[8:], uint16(t.Height))

	off := 10
	for _, grid := range [][]float32{t.Forward, t.Inverse} {
		for _, v := range grid {
			binary.LittleEndian.PutUint16(buf[off:], half.FromFloat32(v))
			off += 2
		}
	}
	return buf
}

func unmarshalTables(data []byte) (*Tables, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("%w: truncated header", errMalformed)
	}
	if binary.LittleEndian.Uint32(data[0:]) != cacheMagic {
		return nil, fmt.Errorf("%w: bad magic", errMalformed)
	}
	if binary.LittleEndian.Uint16(data[4:]) != cacheVersion {
		return nil, fmt.Errorf("%w: unsupported version", errMalformed)
	}
	w := int(binary.LittleEndian.Uint16(data[6:]))
	h := int(binary.LittleEndian.Uint16(data[8:]))
	n := w * h * 2
	if w <= 0 || h <= 0 || len(data) != 10+4*n {
		return nil, fmt.Errorf("%w: %dx%d with %d payload bytes", errMalformed, w, h, len(data)-10)
	}

	t := &Tables{
		Forward: make([]float32, n),
		Inverse: make([]float32, n),
		Width:   w,
		Height:  h,
	}
	off := 10
	for _, grid := range [][]float32{t.Forward, t.Inverse} {
		for i := range grid {
			grid[i] = half.ToFloat32(binary.LittleEndian.Uint16(data[off:]))
			off += 2
		}
	}
	return t, nil
}
