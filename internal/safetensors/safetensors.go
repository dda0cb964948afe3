// Package safetensors reads and writes the safetensors container: an 8-byte
// little-endian header length, a JSON header mapping tensor names to dtype,
// shape and byte offsets, then the raw tensor bytes.
package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-json"
)

// maxHeaderLen guards against allocating for a corrupt length prefix.
const maxHeaderLen = 100 << 20

const metadataKey = "__metadata__"

var ErrTensorNotFound = errors.New("tensor not found")

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an open safetensors file. Tensor bytes are read on demand.
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string

	f *os.File
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open parses the header of the file at path and keeps the file open for
// tensor reads. Callers must Close it.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	sf, err := parseHeader(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("safetensors %s: %w", path, err)
	}
	sf.Path = path
	sf.f = f
	return sf, nil
}

// parseHeader reads the header from r. size is the total file size; every
// tensor must lie inside the data section.
func parseHeader(r io.Reader, size int64) (*File, error) {
	headerLen, err := readU64(r)
	if err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("header length %d too large", headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	sf := &File{
		DataStart: int64(8 + headerLen),
		Tensors:   make(map[string]TensorInfo, len(raw)),
	}
	if msg, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(msg, &sf.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
		delete(raw, metadataKey)
	}
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		start, end := th.DataOffsets[0], th.DataOffsets[1]
		if start < 0 || end < start {
			return nil, fmt.Errorf("tensor %s: invalid offsets [%d, %d]", name, start, end)
		}
		if end > size-sf.DataStart {
			return nil, fmt.Errorf("tensor %s: offsets [%d, %d] past end of data (%d bytes)", name, start, end, size-sf.DataStart)
		}
		sf.Tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return sf, nil
}

// Close releases the underlying file.
func (f *File) Close() error {
	if f == nil || f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

// Names returns the tensor names in lexical order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// ReadTensor returns the raw bytes of a tensor.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if f.f == nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: file closed", name)
	}
	buf := make([]byte, t.End-t.Start)
	if _, err := f.f.ReadAt(buf, f.DataStart+t.Start); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return buf, t, nil
}

// ReadTensorF32 decodes a F32, F16 or BF16 tensor to float32.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	out, err := decode(info.DType, raw, n)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return out, info, nil
}

func decode(dtype string, raw []byte, n int) ([]float32, error) {
	out := make([]float32, n)
	switch dtype {
	case "F32":
		if len(raw) != n*4 {
			return nil, fmt.Errorf("invalid f32 data size")
		}
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "BF16":
		if len(raw) != n*2 {
			return nil, fmt.Errorf("invalid bf16 data size")
		}
		for i := range out {
			out[i] = bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case "F16":
		if len(raw) != n*2 {
			return nil, fmt.Errorf("invalid f16 data size")
		}
		for i := range out {
			out[i] = fp16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	return out, nil
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("empty shape")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func fp16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
