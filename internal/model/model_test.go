package model

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/samcharles93/kindle/internal/tensor"
)

func testModel(t *testing.T, hp Hyperparameters, seed int64) *Model {
	t.Helper()
	m, err := New(hp, NewRandomWeights(hp.WithDefaults(), seed))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func smallHP() Hyperparameters {
	return Hyperparameters{
		VocabSize:      64,
		ContextLength:  1024,
		EmbeddingWidth: 16,
		HeadCount:      4,
		LayerCount:     2,
	}
}

func TestAttendsMask(t *testing.T) {
	t.Parallel()

	// Full pass: plain lower triangle.
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if got, want := attends(i, j, 4, 4), j <= i; got != want {
				t.Fatalf("full pass attends(%d,%d) = %v, want %v", i, j, got, want)
			}
		}
	}
	// Single new row sees every cached position and itself.
	for j := 0; j < 7; j++ {
		if !attends(0, j, 1, 7) {
			t.Fatalf("single step should see column %d", j)
		}
	}
	// Two new rows after three cached: row 0 is position 3, row 1 position 4.
	tests := []struct {
		i, j int
		want bool
	}{
		{0, 2, true},
		{0, 3, true},
		{0, 4, false},
		{1, 4, true},
	}
	for _, tt := range tests {
		if got := attends(tt.i, tt.j, 2, 5); got != tt.want {
			t.Fatalf("attends(%d,%d,2,5) = %v, want %v", tt.i, tt.j, got, tt.want)
		}
	}
}

func TestCausalInvariant(t *testing.T) {
	t.Parallel()
	m := testModel(t, smallHP(), 11)

	a, err := m.Forward([]int{1, 2, 3, 4, 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Forward([]int{1, 2, 3, 4, 60}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if !slices.Equal(a.Row(i), b.Row(i)) {
			t.Fatalf("position %d changed after mutating position 4", i)
		}
	}
	if slices.Equal(a.Row(4), b.Row(4)) {
		t.Fatal("position 4 should depend on its own token")
	}
}

func TestIncrementalMatchesFullPass(t *testing.T) {
	t.Parallel()
	m := testModel(t, smallHP(), 5)
	seed := []int{5, 17, 42}

	full, err := m.Forward(seed, nil)
	if err != nil {
		t.Fatal(err)
	}

	cache := m.NewCache()
	var last tensor.Mat
	for i, tok := range seed {
		last, err = m.Forward([]int{tok}, cache)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if last.R != 1 {
			t.Fatalf("step %d returned %d rows", i, last.R)
		}
		if !slices.Equal(last.Row(0), full.Row(i)) {
			t.Fatalf("position %d: incremental logits differ from full pass", i)
		}
	}
	if cache.Len() != len(seed) {
		t.Fatalf("cache len = %d, want %d", cache.Len(), len(seed))
	}
}

func TestPrefillThenStepMatchesFullPass(t *testing.T) {
	t.Parallel()
	m := testModel(t, smallHP(), 9)
	tokens := []int{3, 1, 4, 1, 5, 9}

	full, err := m.Forward(tokens, nil)
	if err != nil {
		t.Fatal(err)
	}
	cache := m.NewCache()
	if _, err := m.Forward(tokens[:4], cache); err != nil {
		t.Fatal(err)
	}
	tail, err := m.Forward(tokens[4:], cache)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if !slices.Equal(tail.Row(i), full.Row(4+i)) {
			t.Fatalf("position %d differs between chunked and full pass", 4+i)
		}
	}
}

func TestForwardLogitsAreFinite(t *testing.T) {
	t.Parallel()
	m := testModel(t, smallHP(), 1)
	out, err := m.Forward([]int{0, 63, 7}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.R != 3 || out.C != 64 {
		t.Fatalf("logits shape = %s", out.Shape())
	}
	if nans, infs := tensor.CountNonFinite(out.Data); nans+infs != 0 {
		t.Fatalf("non-finite logits: %d NaN, %d Inf", nans, infs)
	}
}

func TestForwardErrors(t *testing.T) {
	t.Parallel()
	hp := smallHP()
	hp.ContextLength = 4
	m := testModel(t, hp, 2)

	tests := []struct {
		name   string
		tokens []int
		want   error
	}{
		{"empty", nil, ErrDimension},
		{"too long", []int{1, 2, 3, 4, 5}, ErrDimension},
		{"negative id", []int{1, -1}, ErrTokenOutOfRange},
		{"id past vocab", []int{64}, ErrTokenOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cache := m.NewCache()
			_, err := m.Forward(tt.tokens, cache)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if cache.Len() != 0 {
				t.Fatalf("cache grew to %d on failure", cache.Len())
			}
		})
	}
}

func TestForwardOverflowKeepsCache(t *testing.T) {
	t.Parallel()
	hp := smallHP()
	hp.ContextLength = 4
	m := testModel(t, hp, 2)
	cache := m.NewCache()
	if _, err := m.Forward([]int{1, 2, 3}, cache); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Forward([]int{4, 5}, cache); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected ErrDimension, got %v", err)
	}
	if cache.Len() != 3 {
		t.Fatalf("cache len = %d after rejected call, want 3", cache.Len())
	}
}

func TestNewRejectsBadWeights(t *testing.T) {
	t.Parallel()
	hp := smallHP().WithDefaults()

	tests := []struct {
		name   string
		mutate func(w *Weights)
	}{
		{"wte width", func(w *Weights) { w.TokenEmbedding = tensor.NewMat(hp.VocabSize, 8) }},
		{"short wpe", func(w *Weights) { w.PositionEmbedding = tensor.NewMat(10, hp.EmbeddingWidth) }},
		{"layer count", func(w *Weights) { w.Layers = w.Layers[:1] }},
		{"query proj", func(w *Weights) { w.Layers[1].Wq = tensor.NewMat(16, 8) }},
		{"fc bias", func(w *Weights) { w.Layers[0].Bfc = w.Layers[0].Bfc[:3] }},
		{"head", func(w *Weights) { h := tensor.NewMat(3, 16); w.Head = &h }},
		{"ln_f", func(w *Weights) { w.OutputNormBeta = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := NewRandomWeights(hp, 4)
			tt.mutate(w)
			_, err := New(hp, w)
			if !errors.Is(err, tensor.ErrShapeMismatch) {
				t.Fatalf("expected ErrShapeMismatch, got %v", err)
			}
		})
	}
}

func TestSeparateHeadIsUsed(t *testing.T) {
	t.Parallel()
	hp := smallHP().WithDefaults()
	w := NewRandomWeights(hp, 8)
	tied, err := New(hp, w)
	if err != nil {
		t.Fatal(err)
	}
	a, err := tied.Forward([]int{1, 2}, nil)
	if err != nil {
		t.Fatal(err)
	}

	head := tensor.NewMat(hp.VocabSize, hp.EmbeddingWidth)
	w2 := *w
	w2.Head = &head
	untied, err := New(hp, &w2)
	if err != nil {
		t.Fatal(err)
	}
	b, err := untied.Forward([]int{1, 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range b.Data {
		if v != 0 {
			t.Fatalf("zero head produced logit %v", v)
		}
	}
	if slices.Equal(a.Data, b.Data) {
		t.Fatal("separate head ignored")
	}
}

func TestKVCacheInvariants(t *testing.T) {
	t.Parallel()
	hp := smallHP()
	m := testModel(t, hp, 6)
	cache := m.NewCache()

	var nilCache *KVCache
	if nilCache.Len() != 0 || nilCache.Layers() != 0 {
		t.Fatal("nil cache should be empty")
	}

	for step, n := range []int{3, 1, 1} {
		toks := make([]int, n)
		for i := range toks {
			toks[i] = step + i
		}
		before := cache.Len()
		if _, err := m.Forward(toks, cache); err != nil {
			t.Fatal(err)
		}
		for l := 0; l < cache.Layers(); l++ {
			if got := cache.LayerLen(l); got != before+n {
				t.Fatalf("layer %d len = %d, want %d", l, got, before+n)
			}
		}
	}

	// Cached keys for position 0 must be untouched by later appends.
	k0, _ := cache.Layer(0)
	ref := m.NewCache()
	if _, err := m.Forward([]int{0, 1, 2}, ref); err != nil {
		t.Fatal(err)
	}
	rk, _ := ref.Layer(0)
	if !slices.Equal(k0.Row(0), rk.Row(0)) {
		t.Fatal("position 0 key changed after later appends")
	}
	if cache.Bytes() <= 0 {
		t.Fatal("Bytes should be positive for a filled cache")
	}

	cache.Reset()
	if cache.Len() != 0 {
		t.Fatalf("len after Reset = %d", cache.Len())
	}
}

func TestCacheLayerMismatch(t *testing.T) {
	t.Parallel()
	m := testModel(t, smallHP(), 1)
	other := smallHP()
	other.LayerCount = 3
	cache := NewKVCache(other)
	if _, err := m.Forward([]int{1}, cache); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestHyperparametersValidate(t *testing.T) {
	t.Parallel()
	base := smallHP().WithDefaults()
	tests := []struct {
		name      string
		mutate    func(h *Hyperparameters)
		wantErr   bool
		wantShape bool
	}{
		{"valid", func(*Hyperparameters) {}, false, false},
		{"zero vocab", func(h *Hyperparameters) { h.VocabSize = 0 }, true, false},
		{"zero ctx", func(h *Hyperparameters) { h.ContextLength = 0 }, true, false},
		{"negative width", func(h *Hyperparameters) { h.EmbeddingWidth = -8 }, true, false},
		{"zero heads", func(h *Hyperparameters) { h.HeadCount = 0 }, true, false},
		{"zero layers", func(h *Hyperparameters) { h.LayerCount = 0 }, true, false},
		{"indivisible", func(h *Hyperparameters) { h.HeadCount = 3 }, true, true},
		{"nan epsilon", func(h *Hyperparameters) { h.Epsilon = float32(math.NaN()) }, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := base
			tt.mutate(&h)
			err := h.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidHyperparameters) {
				t.Fatalf("expected ErrInvalidHyperparameters, got %v", err)
			}
			if tt.wantShape && !errors.Is(err, tensor.ErrShapeMismatch) {
				t.Fatalf("expected ErrShapeMismatch, got %v", err)
			}
		})
	}
	if base.HeadDim() != 4 {
		t.Fatalf("HeadDim = %d", base.HeadDim())
	}
}

func TestParseHyperparameters(t *testing.T) {
	t.Parallel()
	h, err := ParseHyperparameters([]byte(`{"n_vocab": 50257, "n_ctx": 1024, "n_embd": 768, "n_head": 12, "n_layer": 12}`))
	if err != nil {
		t.Fatalf("ParseHyperparameters: %v", err)
	}
	if h != DefaultHyperparameters() {
		t.Fatalf("got %+v, want %+v", h, DefaultHyperparameters())
	}

	data, err := MarshalHyperparameters(h)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ParseHyperparameters(data)
	if err != nil {
		t.Fatal(err)
	}
	if back != h {
		t.Fatalf("round trip %+v != %+v", back, h)
	}

	if _, err := ParseHyperparameters([]byte(`{"n_vocab": 10, "n_ctx": 8, "n_embd": 6, "n_head": 4, "n_layer": 1}`)); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := ParseHyperparameters([]byte(`{`)); err == nil {
		t.Fatal("expected parse error")
	}
}
