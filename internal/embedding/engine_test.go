package embedding

import "testing"

func TestAvailableFalseWithoutPaths(t *testing.T) {
	e := New(Config{})
	if e.Available() {
		t.Fatal("expected Available() to be false with no lib or model path configured")
	}
}

func TestAvailableFalseWithMissingModel(t *testing.T) {
	e := New(Config{LibPath: t.TempDir(), ModelPath: "/nonexistent/model.gguf"})
	if e.Available() {
		t.Fatal("expected Available() to be false when the model file does not exist")
	}
}

func TestNewDefaultsConcurrencyAndContextSize(t *testing.T) {
	e := New(Config{})
	if cap(e.sem) != 1 {
		t.Errorf("expected default concurrency 1, got semaphore capacity %d", cap(e.sem))
	}
	if e.contextSize != 512 {
		t.Errorf("expected default context size 512, got %d", e.contextSize)
	}
}

func TestNewRespectsExplicitConcurrency(t *testing.T) {
	e := New(Config{Concurrency: 4})
	if cap(e.sem) != 4 {
		t.Errorf("expected semaphore capacity 4, got %d", cap(e.sem))
	}
}
