package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	for _, d := range []string{safeDir, unsafeDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	if err := os.Symlink(unsafeDir, filepath.Join(safeDir, "evil-symlink")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		wantError bool
	}{
		{"file in root", filepath.Join(safeDir, "scan.ply"), false},
		{"nested, not yet created", filepath.Join(safeDir, "scans", "run_001", "scan.ply"), false},
		{"dot-dot escape", filepath.Join(safeDir, "..", "scan.ply"), true},
		{"sibling directory", filepath.Join(unsafeDir, "scan.ply"), true},
		{"through symlink", filepath.Join(safeDir, "evil-symlink", "scan.ply"), true},
		{"through symlink, deep new path", filepath.Join(safeDir, "evil-symlink", "a", "b.ply"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantError %v", tt.filePath, err, tt.wantError)
			}
			if err != nil && !errors.Is(err, ErrPathEscapesRoot) {
				t.Errorf("error %v should wrap ErrPathEscapesRoot", err)
			}
		})
	}
}

func TestResolveWithinRoot(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"project relative", "//scans/", filepath.Join(root, "scans"), false},
		{"project relative nested", "//scans/run_001", filepath.Join(root, "scans", "run_001"), false},
		{"plain relative", "out", filepath.Join(root, "out"), false},
		{"project root itself", "//", root, false},
		{"absolute passes through", "/var/tmp/../tmp/scans", "/var/tmp/scans", false},
		{"project relative escape", "//../outside", "", true},
		{"relative escape", "../../outside", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithinRoot(tt.path, root)
			if tt.wantErr {
				if !errors.Is(err, ErrPathEscapesRoot) {
					t.Fatalf("ResolveWithinRoot(%q) error = %v, want ErrPathEscapesRoot", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveWithinRoot(%q) unexpected error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("ResolveWithinRoot(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"scan_001", "scan_001"},
		{"my scan / v2", "my_scan_v2"},
		{"../../etc/passwd", "etc_passwd"},
		{"", "unknown"},
		{"***", "unknown"},
		{"Lidar.Frame-3", "Lidar.Frame-3"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := SanitizeFilename(string(long)); len(got) != 128 {
		t.Errorf("long name length = %d, want 128", len(got))
	}
}
