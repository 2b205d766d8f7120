package platform

import (
	"path/filepath"
	"testing"
)

// TestPathsForLinuxWithXDG verifies behavior for the covered scenario.
func TestPathsForLinuxWithXDG(t *testing.T) {
	p, err := PathsFor("linux", map[string]string{
		"XDG_CONFIG_HOME": "/xdg/config",
		"XDG_DATA_HOME":   "/xdg/data",
	}, "/fallback/config", "/fallback/data", "traq")
	if err != nil {
		t.Fatalf("PathsFor() error = %v", err)
	}
	wantConfig := filepath.Join("/xdg/config", "traq", "config.toml")
	wantDB := filepath.Join("/xdg/data", "traq", "traq.db")
	if p.ConfigPath != wantConfig {
		t.Fatalf("unexpected config path %q", p.ConfigPath)
	}
	if p.DBPath != wantDB {
		t.Fatalf("unexpected db path %q", p.DBPath)
	}
}

// TestPathsForLinuxWithoutXDG verifies behavior for the covered scenario.
func TestPathsForLinuxWithoutXDG(t *testing.T) {
	p, err := PathsFor("linux", map[string]string{}, "/home/me/.config", "/home/me/.local/share", "traq")
	if err != nil {
		t.Fatalf("PathsFor() error = %v", err)
	}
	if p.ConfigPath != filepath.Join("/home/me/.config", "traq", "config.toml") {
		t.Fatalf("unexpected config path %q", p.ConfigPath)
	}
	if p.DataDir != filepath.Join("/home/me/.local/share", "traq") {
		t.Fatalf("unexpected data dir %q", p.DataDir)
	}
}

// TestPathsForWindowsUsesAppData verifies behavior for the covered scenario.
func TestPathsForWindowsUsesAppData(t *testing.T) {
	p, err := PathsFor("windows", map[string]string{
		"APPDATA":      `C:\Users\me\AppData\Roaming`,
		"LOCALAPPDATA": `C:\Users\me\AppData\Local`,
	}, `C:\fallback\config`, `C:\fallback\data`, "traq")
	if err != nil {
		t.Fatalf("PathsFor() error = %v", err)
	}

	wantConfig := filepath.Join(`C:\Users\me\AppData\Roaming`, "traq", "config.toml")
	wantDB := filepath.Join(`C:\Users\me\AppData\Local`, "traq", "traq.db")
	if p.ConfigPath != wantConfig {
		t.Fatalf("unexpected config path %q", p.ConfigPath)
	}
	if p.DBPath != wantDB {
		t.Fatalf("unexpected db path %q", p.DBPath)
	}
}

// TestPathsForEmptyDirsFails verifies behavior for the covered scenario.
func TestPathsForEmptyDirsFails(t *testing.T) {
	if _, err := PathsFor("darwin", nil, "", "/tmp/data", "traq"); err == nil {
		t.Fatal("expected error for empty dirs")
	}
}

// TestPathsForEmptyAppNameFails verifies behavior for the covered scenario.
func TestPathsForEmptyAppNameFails(t *testing.T) {
	if _, err := PathsFor("linux", nil, "/cfg", "/data", "  "); err == nil {
		t.Fatal("expected error for empty app name")
	}
}

// TestPathsForDarwinFallback verifies behavior for the covered scenario.
func TestPathsForDarwinFallback(t *testing.T) {
	p, err := PathsFor("darwin", map[string]string{
		"XDG_CONFIG_HOME": "/ignored",
		"XDG_DATA_HOME":   "/ignored",
	}, "/Users/me/Library/Application Support", "/Users/me/Library/Application Support", "traq")
	if err != nil {
		t.Fatalf("PathsFor() error = %v", err)
	}
	wantConfig := filepath.Join("/Users/me/Library/Application Support", "traq", "config.toml")
	wantDB := filepath.Join("/Users/me/Library/Application Support", "traq", "traq.db")
	if p.ConfigPath != wantConfig {
		t.Fatalf("unexpected config path %q", p.ConfigPath)
	}
	if p.DBPath != wantDB {
		t.Fatalf("unexpected db path %q", p.DBPath)
	}
}
