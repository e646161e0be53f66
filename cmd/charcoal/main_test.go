package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/charcoal/internal/models"
)

func TestNewVersionCmd(t *testing.T) {
	cmd := newVersionCmd()
	if cmd.Use != "version" {
		t.Errorf("Use = %q, want %q", cmd.Use, "version")
	}
	if cmd.Flags().Lookup("json") == nil {
		t.Error("missing --json flag")
	}
}

func TestNewInitCmd(t *testing.T) {
	cmd := newInitCmd()
	if cmd.Use != "init" {
		t.Errorf("Use = %q, want %q", cmd.Use, "init")
	}
}

func TestNewDownloadModelCmd(t *testing.T) {
	cmd := newDownloadModelCmd()
	if cmd.Use != "download-model" {
		t.Errorf("Use = %q, want %q", cmd.Use, "download-model")
	}
	if cmd.Flags().Lookup("force") == nil {
		t.Error("missing --force flag")
	}
}

func TestNewFingerprintCmd(t *testing.T) {
	cmd := newFingerprintCmd()
	if cmd.Use != "fingerprint" {
		t.Errorf("Use = %q, want %q", cmd.Use, "fingerprint")
	}
	if cmd.Flags().Lookup("export") == nil {
		t.Error("missing --export flag")
	}
}

func TestNewScanCmd(t *testing.T) {
	cmd := newScanCmd()
	if cmd.Use != "scan" {
		t.Errorf("Use = %q, want %q", cmd.Use, "scan")
	}
	if cmd.Flags().Lookup("since") == nil {
		t.Error("missing --since flag")
	}
}

func TestNewSweepCmd(t *testing.T) {
	cmd := newSweepCmd()
	if cmd.Use != "sweep" {
		t.Errorf("Use = %q, want %q", cmd.Use, "sweep")
	}
}

func TestNewScoreCmd(t *testing.T) {
	cmd := newScoreCmd()
	if cmd.Use != "score <handle>" {
		t.Errorf("Use = %q, want %q", cmd.Use, "score <handle>")
	}
	if cmd.Args == nil {
		t.Error("expected ExactArgs(1) validator, got nil")
	}
	if cmd.Flags().Lookup("json") == nil {
		t.Error("missing --json flag")
	}
}

func TestNewReportCmd(t *testing.T) {
	cmd := newReportCmd()
	if cmd.Use != "report" {
		t.Errorf("Use = %q, want %q", cmd.Use, "report")
	}
	if cmd.Flags().Lookup("output") == nil {
		t.Error("missing --output flag")
	}
}

func TestNewStatusCmd(t *testing.T) {
	cmd := newStatusCmd()
	if cmd.Use != "status" {
		t.Errorf("Use = %q, want %q", cmd.Use, "status")
	}
}

func TestNewMigrateCmd(t *testing.T) {
	cmd := newMigrateCmd()
	if cmd.Use != "migrate --database-url <url>" {
		t.Errorf("Use = %q, want %q", cmd.Use, "migrate --database-url <url>")
	}
	if cmd.Flags().Lookup("database-url") == nil {
		t.Error("missing --database-url flag")
	}
}

func TestScanStateLabel(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
		want   string
	}{
		{"empty cursor", "", "never scanned"},
		{"saved cursor", "abc123", "resumable from saved cursor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scanStateLabel(tt.cursor); got != tt.want {
				t.Errorf("scanStateLabel(%q) = %q, want %q", tt.cursor, got, tt.want)
			}
		})
	}
}

func TestModelLabel(t *testing.T) {
	tests := []struct {
		name      string
		available bool
		want      string
	}{
		{"available", true, "available"},
		{"not installed", false, "not installed (run: charcoal download-model)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := modelLabel(tt.available); got != tt.want {
				t.Errorf("modelLabel(%v) = %q, want %q", tt.available, got, tt.want)
			}
		})
	}
}

func TestExportFingerprint(t *testing.T) {
	fp := models.TopicFingerprint{
		PostCount: 12,
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Clusters: []models.TopicCluster{
			{
				Label:  "cluster-0",
				Weight: 0.6,
				Keywords: []models.KeywordWeight{
					{Term: "golang", Weight: 0.8},
					{Term: "concurrency", Weight: 0.4},
				},
			},
		},
	}

	path := filepath.Join(t.TempDir(), "fingerprint.yaml")
	if err := exportFingerprint(fp, path); err != nil {
		t.Fatalf("exportFingerprint failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}

	var out fingerprintExport
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshaling exported yaml: %v", err)
	}

	if out.PostCount != 12 {
		t.Errorf("PostCount = %d, want 12", out.PostCount)
	}
	if len(out.Clusters) != 1 {
		t.Fatalf("Clusters = %d, want 1", len(out.Clusters))
	}
	if out.Clusters[0].Label != "cluster-0" {
		t.Errorf("Label = %q, want %q", out.Clusters[0].Label, "cluster-0")
	}
	if out.Clusters[0].Keywords["golang"] != 0.8 {
		t.Errorf("Keywords[golang] = %v, want 0.8", out.Clusters[0].Keywords["golang"])
	}
}
