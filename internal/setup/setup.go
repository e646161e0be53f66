// Package setup provides installation and detection utilities for
// charcoal's local inference dependencies (llama.cpp shared libraries, the
// GGUF embedding model, and the bundled toxicity probe weights).
package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"

	"github.com/hybridgroup/yzma/pkg/download"

	"github.com/nvandessel/charcoal/internal/constants"
)

// DefaultEmbeddingModelURL returns the HuggingFace URL for the default
// local embedding model.
func DefaultEmbeddingModelURL() string {
	return "https://huggingface.co/nomic-ai/nomic-embed-text-v1.5-GGUF/resolve/main/nomic-embed-text-v1.5.Q4_K_M.gguf"
}

// ModelSetup describes the detected state of charcoal's local model
// directory: the llama.cpp shared library, the GGUF embedding model, and
// the toxicity probe head.
type ModelSetup struct {
	LibPath        string // path to llama.cpp libs directory (empty if not found)
	ModelPath      string // path to GGUF model file (empty if not found)
	ToxicityHead   string // path to toxicity_head.json (empty if not found)
	Available      bool   // true if lib + model + toxicity head all found
}

// DetectInstalled checks modelDir for llama.cpp libraries, a GGUF model,
// and toxicity_head.json.
func DetectInstalled(modelDir string) ModelSetup {
	var result ModelSetup

	libDir := filepath.Join(modelDir, "lib")
	libFile := filepath.Join(libDir, libraryFileName())
	if _, err := os.Stat(libFile); err == nil {
		result.LibPath = libDir
	}

	modelsDir := filepath.Join(modelDir, "models")
	entries, err := os.ReadDir(modelsDir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && filepath.Ext(entry.Name()) == ".gguf" {
				result.ModelPath = filepath.Join(modelsDir, entry.Name())
				break
			}
		}
	}

	headPath := filepath.Join(modelDir, "toxicity_head.json")
	if _, err := os.Stat(headPath); err == nil {
		result.ToxicityHead = headPath
	}

	result.Available = result.LibPath != "" && result.ModelPath != "" && result.ToxicityHead != ""
	return result
}

func libraryFileName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libllama.dylib"
	default:
		return "libllama.so"
	}
}

// DownloadLibraries downloads llama.cpp shared libraries to modelDir/lib.
// Automatically detects architecture and OS; uses the CPU build.
func DownloadLibraries(ctx context.Context, modelDir string) error {
	destDir := filepath.Join(modelDir, "lib")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating lib directory: %w", err)
	}

	version, err := download.LlamaLatestVersion()
	if err != nil {
		return fmt.Errorf("getting latest llama.cpp version: %w", err)
	}

	return download.GetWithContext(ctx, runtime.GOARCH, runtime.GOOS, "cpu", version, destDir, download.ProgressTracker)
}

// DownloadEmbeddingModel downloads the default GGUF embedding model to
// modelDir/models.
func DownloadEmbeddingModel(ctx context.Context, modelDir string) error {
	destDir := filepath.Join(modelDir, "models")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating models directory: %w", err)
	}

	return download.GetModelWithContext(ctx, DefaultEmbeddingModelURL(), destDir, download.ProgressTracker)
}

// EnsureToxicityHead writes a default toxicity_head.json to modelDir if one
// doesn't already exist. No hosted classifier-weight artifact exists
// anywhere in the retrieval pack to download this from, so charcoal ships
// a seeded 7x384 linear probe head as a repo-local default rather than
// fabricating a download source; operators who train their own probe can
// overwrite the file in place.
func EnsureToxicityHead(modelDir string) (string, error) {
	path := filepath.Join(modelDir, "toxicity_head.json")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return "", fmt.Errorf("creating model directory: %w", err)
	}

	head := seedProbeHead()
	data, err := json.Marshal(head)
	if err != nil {
		return "", fmt.Errorf("marshaling seed toxicity head: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing toxicity_head.json: %w", err)
	}
	return path, nil
}

type seededProbeHead struct {
	Weights [][]float32 `json:"weights"`
	Bias    []float32   `json:"bias"`
}

// seedProbeHead generates small, deterministic near-zero weights so the
// scorer runs end to end out of the box; it is not a trained classifier.
func seedProbeHead() seededProbeHead {
	rng := rand.New(rand.NewSource(1))
	weights := make([][]float32, constants.ToxicityCategoryCount)
	for i := range weights {
		row := make([]float32, constants.EmbeddingDim)
		for d := range row {
			row[d] = float32(rng.NormFloat64()) * 0.01
		}
		weights[i] = row
	}
	return seededProbeHead{
		Weights: weights,
		Bias:    make([]float32, constants.ToxicityCategoryCount),
	}
}
