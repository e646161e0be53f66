package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "charcoal.db")
	want := []byte("pretend this is a sqlite file")
	if err := os.WriteFile(dbPath, want, 0600); err != nil {
		t.Fatalf("writing source db: %v", err)
	}

	backupPath := GenerateBackupPath(dir)
	header, err := Snapshot(dbPath, backupPath)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if header.Version != FormatVersion {
		t.Errorf("header.Version = %d, want %d", header.Version, FormatVersion)
	}

	restoredPath := filepath.Join(dir, "restored.db")
	if err := Restore(backupPath, restoredPath); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := os.ReadFile(restoredPath)
	if err != nil {
		t.Fatalf("reading restored db: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("restored contents = %q, want %q", got, want)
	}
}

func TestRestoreRejectsCorruptedChecksum(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "charcoal.db")
	if err := os.WriteFile(dbPath, []byte("original data"), 0600); err != nil {
		t.Fatalf("writing source db: %v", err)
	}

	backupPath := GenerateBackupPath(dir)
	if _, err := Snapshot(dbPath, backupPath); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	f, err := os.OpenFile(backupPath, os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("opening backup for corruption: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat backup: %v", err)
	}
	// Flip the last byte of the gzip payload, which the header checksum covers.
	if _, err := f.WriteAt([]byte{0xFF}, info.Size()-1); err != nil {
		t.Fatalf("corrupting backup: %v", err)
	}
	f.Close()

	if err := Restore(backupPath, filepath.Join(dir, "restored.db")); err == nil {
		t.Error("expected Restore to reject a corrupted backup")
	}
}

func TestSnapshotValidatesOutputPath(t *testing.T) {
	dir := t.TempDir()
	otherDir := t.TempDir()
	dbPath := filepath.Join(dir, "charcoal.db")
	if err := os.WriteFile(dbPath, []byte("data"), 0600); err != nil {
		t.Fatalf("writing source db: %v", err)
	}

	outsidePath := filepath.Join(otherDir, "escape.db.gz")
	if _, err := Snapshot(dbPath, outsidePath, dir); err == nil {
		t.Error("expected Snapshot to reject an output path outside allowedDirs")
	}
}

func TestListBackupsSortedNewestFirst(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"charcoal-backup-20260101-000000.db.gz",
		"charcoal-backup-20260201-000000.db.gz",
		"not-a-backup.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0600); err != nil {
			t.Fatalf("writing %s: %v", n, err)
		}
	}

	backups, err := ListBackups(dir)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(backups))
	}
	if filepath.Base(backups[0].Path) != "charcoal-backup-20260201-000000.db.gz" {
		t.Errorf("expected newest backup first, got %s", backups[0].Path)
	}
}

func TestCountPolicyKeepsMostRecent(t *testing.T) {
	backups := []BackupInfo{
		{Path: "a", CreatedAt: time.Now()},
		{Path: "b", CreatedAt: time.Now()},
		{Path: "c", CreatedAt: time.Now()},
	}
	policy := &CountPolicy{MaxCount: 2}
	kept := policy.Apply(backups)
	if len(kept) != 2 {
		t.Fatalf("expected 2 kept, got %d", len(kept))
	}
}

func TestAgePolicyDropsOldBackups(t *testing.T) {
	now := time.Now()
	backups := []BackupInfo{
		{Path: "new", CreatedAt: now},
		{Path: "old", CreatedAt: now.Add(-48 * time.Hour)},
	}
	policy := &AgePolicy{MaxAge: 24 * time.Hour}
	kept := policy.Apply(backups)
	if len(kept) != 1 || kept[0].Path != "new" {
		t.Errorf("expected only the new backup to survive, got %+v", kept)
	}
}

func TestCompositePolicyUnion(t *testing.T) {
	now := time.Now()
	backups := []BackupInfo{
		{Path: "a", CreatedAt: now, Size: 10},
		{Path: "b", CreatedAt: now.Add(-72 * time.Hour), Size: 10},
	}
	policy := &CompositePolicy{Policies: []RetentionPolicy{
		&CountPolicy{MaxCount: 1},
		&AgePolicy{MaxAge: 24 * time.Hour},
	}}
	kept := policy.Apply(backups)
	if len(kept) != 1 {
		t.Fatalf("expected both policies to agree on keeping only 'a', got %+v", kept)
	}
}

func TestApplyRetentionDeletesUnkept(t *testing.T) {
	dir := t.TempDir()
	for i, n := range []string{
		"charcoal-backup-20260101-000000.db.gz",
		"charcoal-backup-20260102-000000.db.gz",
		"charcoal-backup-20260103-000000.db.gz",
	} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0600); err != nil {
			t.Fatalf("writing backup %d: %v", i, err)
		}
	}

	deleted, err := ApplyRetention(dir, &CountPolicy{MaxCount: 1})
	if err != nil {
		t.Fatalf("ApplyRetention: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("expected 2 deletions, got %d: %v", len(deleted), deleted)
	}

	remaining, err := ListBackups(dir)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected 1 backup remaining, got %d", len(remaining))
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 2 * 7 * 24 * time.Hour, false},
		{"720h", 720 * time.Hour, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100MB", 100 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"500KB", 500 * 1024, false},
		{"10B", 10, false},
		{"", 0, true},
		{"100", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
