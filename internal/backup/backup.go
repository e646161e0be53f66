// Package backup snapshots the charcoal SQLite database file so a scan can
// be rolled back after a bad run (a misconfigured scorer, a corrupted
// migration) without re-scanning the follower graph from scratch.
package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvandessel/charcoal/internal/pathutil"
)

// FormatVersion identifies the snapshot header layout, in case the header
// shape ever needs to change.
const FormatVersion = 1

// MaxDecompressedSize caps how large a restored database may be (2GB).
const MaxDecompressedSize = 2 * 1024 * 1024 * 1024

// Header is the plain-text first line of a snapshot file: a JSON header
// followed by a newline, then the gzip-compressed database bytes.
type Header struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	Checksum   string    `json:"checksum"`
	SourcePath string    `json:"source_path"`
}

// DefaultBackupDir returns the default backup directory (~/.charcoal/backups/).
func DefaultBackupDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".charcoal", "backups"), nil
}

// GenerateBackupPath creates a timestamped snapshot filename in the given
// directory.
func GenerateBackupPath(dir string) string {
	ts := time.Now().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("charcoal-backup-%s.db.gz", ts))
}

// isBackupFile returns true if the filename matches the charcoal backup
// naming pattern.
func isBackupFile(name string) bool {
	return strings.HasPrefix(name, "charcoal-backup-") && strings.HasSuffix(name, ".db.gz")
}

// Snapshot gzip-compresses dbPath's current contents into outputPath,
// recording a SHA-256 checksum in the header so Restore can detect
// corruption. If allowedDirs is non-empty, outputPath is validated against
// them before anything is written.
func Snapshot(dbPath, outputPath string, allowedDirs ...string) (*Header, error) {
	if len(allowedDirs) > 0 {
		if err := pathutil.ValidatePath(outputPath, allowedDirs); err != nil {
			return nil, fmt.Errorf("backup path rejected: %w", err)
		}
	}

	data, err := os.ReadFile(dbPath)
	if err != nil {
		return nil, fmt.Errorf("reading database file: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing database: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	hash := sha256.Sum256(compressed.Bytes())
	header := Header{
		Version:    FormatVersion,
		CreatedAt:  time.Now(),
		Checksum:   "sha256:" + hex.EncodeToString(hash[:]),
		SourcePath: dbPath,
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0700); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	f, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating backup file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(headerBytes); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return nil, fmt.Errorf("writing header newline: %w", err)
	}
	if _, err := f.Write(compressed.Bytes()); err != nil {
		return nil, fmt.Errorf("writing compressed database: %w", err)
	}

	return &header, nil
}

// Restore verifies a snapshot's checksum and decompresses it to destPath.
// If allowedDirs is non-empty, inputPath is validated against them.
func Restore(inputPath, destPath string, allowedDirs ...string) error {
	if len(allowedDirs) > 0 {
		if err := pathutil.ValidatePath(inputPath, allowedDirs); err != nil {
			return fmt.Errorf("restore path rejected: %w", err)
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening backup file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("reading header line: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return fmt.Errorf("parsing header: %w", err)
	}

	compressedData, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("reading compressed payload: %w", err)
	}

	hash := sha256.Sum256(compressedData)
	actualChecksum := "sha256:" + hex.EncodeToString(hash[:])
	if actualChecksum != header.Checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", header.Checksum, actualChecksum)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	limitedReader := io.LimitReader(gzr, MaxDecompressedSize+1)
	decompressed, err := io.ReadAll(limitedReader)
	if err != nil {
		return fmt.Errorf("decompressing database: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return fmt.Errorf("decompressed database exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	if err := os.WriteFile(destPath, decompressed, 0600); err != nil {
		return fmt.Errorf("writing restored database: %w", err)
	}

	return nil
}

// ReadHeader reads only the header line from a snapshot file without
// decompressing the payload, for quick listing/inspection.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening backup file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}

	return &header, nil
}
