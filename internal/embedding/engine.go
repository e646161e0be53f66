// Package embedding computes local sentence embeddings with a GGUF model via
// hybridgroup/yzma (purego bindings, no cgo). Unlike a sequence-pooled
// embedding, charcoal needs the per-token vectors so it can attention-mask
// mean-pool them itself in internal/vecmath — the pooling step the spec
// calls out explicitly, rather than relying on whatever pooling the model
// runtime bakes in.
package embedding

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"

	"github.com/nvandessel/charcoal/internal/vecmath"
)

// Package-level library initialization. llama.Load() and llama.Init() are
// process-global and must only run once regardless of how many Engines
// exist in the process.
var (
	libOnce    sync.Once
	libLoadErr error
)

func loadLib(libPath string) error {
	libOnce.Do(func() {
		if err := llama.Load(libPath); err != nil {
			libLoadErr = fmt.Errorf("loading yzma shared library from %q: %w", libPath, err)
			return
		}
		llama.LogSet(llama.LogSilent())
		llama.Init()
	})
	return libLoadErr
}

// Config configures an Engine.
type Config struct {
	// LibPath is the directory containing the yzma shared libraries
	// (.so/.dylib). Falls back to the YZMA_LIB env var.
	LibPath string

	// ModelPath is the GGUF embedding model file.
	ModelPath string

	// GPULayers is the number of layers to offload to GPU (0 = CPU only).
	GPULayers int

	// ContextSize is the context window, in tokens, used per Embed call.
	ContextSize int

	// Concurrency bounds how many Embed calls may run inference at once.
	// Defaults to 1: most GGUF runtimes serialize decode against a single
	// model handle, so concurrent callers queue behind a semaphore rather
	// than corrupting shared context state.
	Concurrency int
}

// Engine is a local sentence-embedding model. The model loads lazily on
// first use; inference calls are serialized through a bounded semaphore
// sized by Config.Concurrency.
type Engine struct {
	libPath     string
	modelPath   string
	gpuLayers   int
	contextSize int

	sem  chan struct{}
	once sync.Once

	mu      sync.Mutex
	model   llama.Model
	vocab   llama.Vocab
	nEmbd   int32
	loaded  bool
	loadErr error
}

// New builds an Engine from cfg. The model is not loaded until the first
// Embed call.
func New(cfg Config) *Engine {
	ctxSize := cfg.ContextSize
	if ctxSize <= 0 {
		ctxSize = 512
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	libPath := cfg.LibPath
	if libPath == "" {
		libPath = os.Getenv("YZMA_LIB")
	}
	return &Engine{
		libPath:     libPath,
		modelPath:   cfg.ModelPath,
		gpuLayers:   cfg.GPULayers,
		contextSize: ctxSize,
		sem:         make(chan struct{}, concurrency),
	}
}

// Available reports whether the library directory and model file exist on
// disk, without loading either.
func (e *Engine) Available() bool {
	if e.libPath == "" || e.modelPath == "" {
		return false
	}
	if info, err := os.Stat(e.libPath); err != nil || !info.IsDir() {
		return false
	}
	_, err := os.Stat(e.modelPath)
	return err == nil
}

func (e *Engine) loadModel() error {
	e.once.Do(func() {
		if e.modelPath == "" {
			e.loadErr = fmt.Errorf("embedding: no model path configured")
			return
		}
		if e.libPath == "" {
			e.loadErr = fmt.Errorf("embedding: no library path configured (set CHARCOAL_MODEL_DIR or YZMA_LIB)")
			return
		}
		if err := loadLib(e.libPath); err != nil {
			e.loadErr = err
			return
		}

		modelParams := llama.ModelDefaultParams()
		gpuLayers := e.gpuLayers
		if gpuLayers > math.MaxInt32 {
			gpuLayers = math.MaxInt32
		}
		modelParams.NGpuLayers = int32(gpuLayers)

		model, err := llama.ModelLoadFromFile(e.modelPath, modelParams)
		if err != nil {
			e.loadErr = fmt.Errorf("loading embedding model %s: %w", e.modelPath, err)
			return
		}
		if model == 0 {
			e.loadErr = fmt.Errorf("loading embedding model %s: returned null handle", e.modelPath)
			return
		}

		e.model = model
		e.vocab = llama.ModelGetVocab(model)
		e.nEmbd = int32(llama.ModelNEmbd(model))
		e.loaded = true
	})
	return e.loadErr
}

// Embed returns the L2-normalized, attention-mask-weighted mean-pooled
// embedding for text. A fresh llama context is created per call and freed
// before returning; concurrent callers are serialized by Engine's semaphore.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.loadModel(); err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	tokens := llama.Tokenize(e.vocab, text, true, true)
	if len(tokens) == 0 {
		return make([]float32, e.nEmbd), nil
	}
	if len(tokens) > e.contextSize {
		tokens = tokens[:e.contextSize]
	}

	ctxParams := llama.ContextDefaultParams()
	nCtx := e.contextSize
	if nCtx > math.MaxUint32 {
		nCtx = math.MaxUint32
	}
	ctxParams.NCtx = uint32(nCtx)

	lctx, err := llama.InitFromModel(e.model, ctxParams)
	if err != nil {
		return nil, fmt.Errorf("creating embedding context: %w", err)
	}
	defer func() { _ = llama.Free(lctx) }()

	llama.SetEmbeddings(lctx, true)

	batch := llama.BatchGetOne(tokens)
	if _, err := llama.Decode(lctx, batch); err != nil {
		return nil, fmt.Errorf("decoding tokens: %w", err)
	}

	// Per-token embeddings, not the runtime's own sequence pooling: charcoal
	// does its own attention-mask-weighted mean-pool below.
	tokenVecs := make([][]float32, len(tokens))
	mask := make([]int, len(tokens))
	for i := range tokens {
		raw, err := llama.GetEmbeddingsIth(lctx, i, e.nEmbd)
		if err != nil {
			return nil, fmt.Errorf("reading token %d embedding: %w", i, err)
		}
		vec := make([]float32, len(raw))
		copy(vec, raw)
		tokenVecs[i] = vec
		mask[i] = 1
	}

	pooled := vecmath.MeanPool(tokenVecs, mask)
	vecmath.Normalize(pooled)
	return pooled, nil
}

// EmbedBatch embeds every text in order and returns one vector per text.
// The first text that fails to embed fails the whole batch; failing texts
// are not skipped.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding batch item: %w", err)
		}
		vecs = append(vecs, v)
	}
	return vecs, nil
}

// Centroid embeds every text and returns the L2-normalized average of the
// resulting vectors — the account-level "topic centroid" the spec composes
// topic overlap from.
func (e *Engine) Centroid(ctx context.Context, texts []string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	centroid := vecmath.Average(vecs)
	vecmath.Normalize(centroid)
	return centroid, nil
}

// Close releases the model. Safe to call multiple times. Does not unload
// the process-global yzma library.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		_ = llama.ModelFree(e.model)
		e.model = 0
		e.vocab = 0
		e.nEmbd = 0
		e.loaded = false
		e.once = sync.Once{}
	}
	return nil
}
