package main

import (
	"os"
	"path/filepath"
	"testing"
)

// isolateConfig points the config loader at an empty temp dir and clears
// the environment overrides the loader consults.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_FILE", "")
	for _, key := range []string{"DNSJUMP_PROFILES", "LOG_LEVEL", "HTTP_ADDR", "SOCKET_PATH"} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := isolateConfig(t)

	config, showVersion, showConfig, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if showVersion || showConfig {
		t.Errorf("showVersion=%v showConfig=%v without flags", showVersion, showConfig)
	}
	if config.LogLevel != "INFO" || config.HTTPAddr != ":9453" {
		t.Errorf("unexpected defaults: %+v", config)
	}
	if config.ProfilesPath != filepath.Join(dir, "dns_profiles.json") {
		t.Errorf("profiles path = %s", config.ProfilesPath)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := isolateConfig(t)

	// file < environment < cli
	file := `{"logLevel":"DEBUG","httpAddr":":7000"}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(file), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HTTP_ADDR", ":8000")

	config, _, _, err := LoadConfig([]string{"-http-addr", ":9000"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.LogLevel != "DEBUG" {
		t.Errorf("logLevel = %s, want DEBUG from file", config.LogLevel)
	}
	if config.sources["logLevel"] != string(SourceFile) {
		t.Errorf("logLevel source = %s, want file", config.sources["logLevel"])
	}
	if config.HTTPAddr != ":9000" {
		t.Errorf("httpAddr = %s, want CLI value", config.HTTPAddr)
	}
	if config.sources["httpAddr"] != string(SourceCLI) {
		t.Errorf("httpAddr source = %s, want cli", config.sources["httpAddr"])
	}
}

func TestLoadConfigRejectsUnknownFlags(t *testing.T) {
	isolateConfig(t)

	// The API server is implied by the run command; there is no flag for it
	if _, _, _, err := LoadConfig([]string{"-enable-api"}); err == nil {
		t.Error("expected an error for an unknown flag")
	}
}
