package setup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/nvandessel/charcoal/internal/constants"
)

func TestDetectInstalledNothingPresent(t *testing.T) {
	dir := t.TempDir()
	result := DetectInstalled(dir)
	if result.Available {
		t.Error("expected Available=false when nothing exists")
	}
}

func TestDetectInstalledRequiresAllThree(t *testing.T) {
	dir := t.TempDir()
	libDir := filepath.Join(dir, "lib")
	modelsDir := filepath.Join(dir, "models")
	os.MkdirAll(libDir, 0755)
	os.MkdirAll(modelsDir, 0755)

	libName := "libllama.so"
	if runtime.GOOS == "darwin" {
		libName = "libllama.dylib"
	}
	os.WriteFile(filepath.Join(libDir, libName), []byte("fake"), 0644)
	os.WriteFile(filepath.Join(modelsDir, "test.gguf"), []byte("fake"), 0644)

	if DetectInstalled(dir).Available {
		t.Error("expected Available=false without a toxicity head")
	}

	os.WriteFile(filepath.Join(dir, "toxicity_head.json"), []byte("{}"), 0644)
	if !DetectInstalled(dir).Available {
		t.Error("expected Available=true once lib, model, and toxicity head all exist")
	}
}

func TestEnsureToxicityHeadWritesValidShape(t *testing.T) {
	dir := t.TempDir()
	path, err := EnsureToxicityHead(dir)
	if err != nil {
		t.Fatalf("EnsureToxicityHead: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading generated head: %v", err)
	}

	var head struct {
		Weights [][]float32 `json:"weights"`
		Bias    []float32   `json:"bias"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		t.Fatalf("parsing generated head: %v", err)
	}
	if len(head.Weights) != constants.ToxicityCategoryCount {
		t.Errorf("got %d weight rows, want %d", len(head.Weights), constants.ToxicityCategoryCount)
	}
	for i, row := range head.Weights {
		if len(row) != constants.EmbeddingDim {
			t.Errorf("row %d: got %d dims, want %d", i, len(row), constants.EmbeddingDim)
		}
	}
	if len(head.Bias) != constants.ToxicityCategoryCount {
		t.Errorf("got %d bias entries, want %d", len(head.Bias), constants.ToxicityCategoryCount)
	}
}

func TestEnsureToxicityHeadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path1, err := EnsureToxicityHead(dir)
	if err != nil {
		t.Fatalf("first EnsureToxicityHead: %v", err)
	}
	original, _ := os.ReadFile(path1)

	path2, err := EnsureToxicityHead(dir)
	if err != nil {
		t.Fatalf("second EnsureToxicityHead: %v", err)
	}
	again, _ := os.ReadFile(path2)

	if string(original) != string(again) {
		t.Error("expected EnsureToxicityHead to leave an existing file untouched")
	}
}

func TestDefaultEmbeddingModelURL(t *testing.T) {
	url := DefaultEmbeddingModelURL()
	if url == "" {
		t.Error("expected non-empty URL")
	}
}
