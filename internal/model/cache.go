package model

import (
	"fmt"

	"github.com/samcharles93/kindle/internal/tensor"
)

// initialCacheRows bounds the first allocation of a layer cache; it grows by
// appending after that.
const initialCacheRows = 64

// KVCache stores the key and value projections of every processed position,
// one pair of [positions x d] matrices per layer. Rows are in position order
// and every layer always holds the same number of rows.
//
// A cache belongs to exactly one session and is not safe for concurrent use.
type KVCache struct {
	width  int
	layers []layerCache
}

type layerCache struct {
	K, V tensor.Mat
}

// kvRows are the key/value rows produced for new positions by one layer.
type kvRows struct {
	K, V tensor.Mat
}

// NewKVCache returns an empty cache sized for hp.
func NewKVCache(hp Hyperparameters) *KVCache {
	c := &KVCache{
		width:  hp.EmbeddingWidth,
		layers: make([]layerCache, hp.LayerCount),
	}
	rows := min(hp.ContextLength, initialCacheRows)
	for i := range c.layers {
		c.layers[i] = layerCache{
			K: tensor.WithCapacity(rows, c.width),
			V: tensor.WithCapacity(rows, c.width),
		}
	}
	return c
}

// Len returns the number of cached positions.
func (c *KVCache) Len() int {
	if c == nil || len(c.layers) == 0 {
		return 0
	}
	return c.layers[0].K.R
}

// Layers returns the number of layers the cache was built for.
func (c *KVCache) Layers() int {
	if c == nil {
		return 0
	}
	return len(c.layers)
}

// LayerLen returns the number of cached positions for one layer.
func (c *KVCache) LayerLen(layer int) int {
	return c.layers[layer].K.R
}

// Layer returns read-only views of a layer's keys and values.
func (c *KVCache) Layer(layer int) (k, v tensor.Mat) {
	lc := c.layers[layer]
	return lc.K, lc.V
}

// Bytes returns the memory held by cached rows.
func (c *KVCache) Bytes() int64 {
	if c == nil {
		return 0
	}
	return int64(len(c.layers)) * 2 * int64(c.Len()) * int64(c.width) * 4
}

// Reset drops every cached position, keeping allocations for reuse.
func (c *KVCache) Reset() {
	for i := range c.layers {
		c.layers[i].K = tensor.Mat{R: 0, C: c.width, Data: c.layers[i].K.Data[:0]}
		c.layers[i].V = tensor.Mat{R: 0, C: c.width, Data: c.layers[i].V.Data[:0]}
	}
}

func (c *KVCache) layer(i int) layerCache {
	if c == nil {
		return layerCache{}
	}
	return c.layers[i]
}

// commit appends the rows produced by a forward pass. It validates every layer
// before mutating any of them.
func (c *KVCache) commit(rows []kvRows) error {
	if len(rows) != len(c.layers) {
		return fmt.Errorf("cache commit: %d layers, cache has %d: %w", len(rows), len(c.layers), tensor.ErrShapeMismatch)
	}
	n := rows[0].K.R
	for i, r := range rows {
		if r.K.R != n || r.V.R != n || r.K.C != c.width || r.V.C != c.width {
			return fmt.Errorf("cache commit layer %d: %w", i, &tensor.ShapeError{Op: "kv_commit", A: r.K.Shape(), B: tensor.Shape{n, c.width}})
		}
	}
	for i, r := range rows {
		k, err := tensor.AppendRows(c.layers[i].K, r.K)
		if err != nil {
			return err
		}
		v, err := tensor.AppendRows(c.layers[i].V, r.V)
		if err != nil {
			return err
		}
		c.layers[i].K = k
		c.layers[i].V = v
	}
	return nil
}
