package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Config holds all configuration options for the dnsjump daemon and CLI
type Config struct {
	// Profile storage
	ProfilesPath string `json:"profilesPath"`

	// Logging
	LogLevel string `json:"logLevel"`

	// HTTP server
	HTTPAddr   string `json:"httpAddr"`
	SocketPath string `json:"socketPath"`

	// Source tracking (not in JSON)
	sources map[string]string `json:"-"`
}

// ConfigSource tracks where each config value came from
type ConfigSource string

const (
	SourceDefault ConfigSource = "default"
	SourceFile    ConfigSource = "file"
	SourceEnv     ConfigSource = "environment"
	SourceCLI     ConfigSource = "cli"
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	config := &Config{
		ProfilesPath: filepath.Join(getConfigDir(), "dns_profiles.json"),
		LogLevel:     "INFO",
		HTTPAddr:     ":9453",
		sources:      make(map[string]string),
	}

	config.sources["profilesPath"] = string(SourceDefault)
	config.sources["logLevel"] = string(SourceDefault)
	config.sources["httpAddr"] = string(SourceDefault)
	config.sources["socketPath"] = string(SourceDefault)

	return config
}

// getConfigDir returns the config directory path
func getConfigDir() string {
	configDir := os.Getenv("CONFIG_DIR")
	if configDir != "" {
		return configDir
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "dnsjump")
	case "windows":
		return filepath.Join(os.Getenv("PROGRAMDATA"), "dnsjump")
	default: // linux and others
		return filepath.Join(os.Getenv("HOME"), ".config", "dnsjump")
	}
}

// getConfigPath returns the path to the dnsjump config file
func getConfigPath() string {
	configFile := os.Getenv("CONFIG_FILE")
	if configFile != "" {
		return configFile
	}

	configDir := getConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		fmt.Printf("Warning: Failed to create config directory: %v\n", err)
	}

	return filepath.Join(configDir, "config.json")
}

// LoadConfig loads configuration from file, env vars, and CLI args
// Priority: CLI args > Env vars > Config file > Defaults
// Returns: (config, showVersion, showConfig, error)
func LoadConfig(args []string) (*Config, bool, bool, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load from config file (if exists)
	fileConfig, err := loadConfigFromFile()
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to load config file: %w", err)
	}
	if fileConfig != nil {
		mergeConfigs(config, fileConfig)
	}

	// Override with environment variables
	loadConfigFromEnv(config)

	// Override with CLI arguments
	showVersion, showConfig, err := loadConfigFromCLI(config, args)
	if err != nil {
		return nil, false, false, err
	}

	return config, showVersion, showConfig, nil
}

// loadConfigFromFile loads configuration from the JSON config file
func loadConfigFromFile() (*Config, error) {
	configPath := getConfigPath()
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // File doesn't exist, not an error
		}
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// loadConfigFromEnv loads configuration from environment variables
func loadConfigFromEnv(config *Config) {
	if val := os.Getenv("DNSJUMP_PROFILES"); val != "" {
		config.ProfilesPath = val
		config.sources["profilesPath"] = string(SourceEnv)
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.LogLevel = val
		config.sources["logLevel"] = string(SourceEnv)
	}
	if val := os.Getenv("HTTP_ADDR"); val != "" {
		config.HTTPAddr = val
		config.sources["httpAddr"] = string(SourceEnv)
	}
	if val := os.Getenv("SOCKET_PATH"); val != "" {
		config.SocketPath = val
		config.sources["socketPath"] = string(SourceEnv)
	}
}

// loadConfigFromCLI loads configuration from command-line arguments
func loadConfigFromCLI(config *Config, args []string) (bool, bool, error) {
	serviceFlags := flag.NewFlagSet("dnsjump", flag.ContinueOnError)

	// Store original values to detect changes
	origValues := map[string]interface{}{
		"profilesPath": config.ProfilesPath,
		"logLevel":     config.LogLevel,
		"httpAddr":     config.HTTPAddr,
		"socketPath":   config.SocketPath,
	}

	// Define flags
	serviceFlags.StringVar(&config.ProfilesPath, "profiles", config.ProfilesPath, "Path to the DNS profiles file")
	serviceFlags.StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level (DEBUG, INFO, WARN, ERROR, FATAL)")
	serviceFlags.StringVar(&config.HTTPAddr, "http-addr", config.HTTPAddr, "HTTP server address (e.g., ':9453')")
	serviceFlags.StringVar(&config.SocketPath, "socket", config.SocketPath, "Unix socket or named pipe path for the API server")

	version := serviceFlags.Bool("version", false, "Print the version")
	showConfig := serviceFlags.Bool("show-config", false, "Show configuration sources and exit")

	// Parse the arguments
	if err := serviceFlags.Parse(args); err != nil {
		return false, false, err
	}

	// Track which values were changed by CLI args
	if config.ProfilesPath != origValues["profilesPath"].(string) {
		config.sources["profilesPath"] = string(SourceCLI)
	}
	if config.LogLevel != origValues["logLevel"].(string) {
		config.sources["logLevel"] = string(SourceCLI)
	}
	if config.HTTPAddr != origValues["httpAddr"].(string) {
		config.sources["httpAddr"] = string(SourceCLI)
	}
	if config.SocketPath != origValues["socketPath"].(string) {
		config.sources["socketPath"] = string(SourceCLI)
	}

	return *version, *showConfig, nil
}

// mergeConfigs merges source config into destination (only non-default values)
// Also tracks that these values came from a file
func mergeConfigs(dest, src *Config) {
	if src.ProfilesPath != "" {
		dest.ProfilesPath = src.ProfilesPath
		dest.sources["profilesPath"] = string(SourceFile)
	}
	if src.LogLevel != "" && src.LogLevel != "INFO" {
		dest.LogLevel = src.LogLevel
		dest.sources["logLevel"] = string(SourceFile)
	}
	if src.HTTPAddr != "" && src.HTTPAddr != ":9453" {
		dest.HTTPAddr = src.HTTPAddr
		dest.sources["httpAddr"] = string(SourceFile)
	}
	if src.SocketPath != "" {
		dest.SocketPath = src.SocketPath
		dest.sources["socketPath"] = string(SourceFile)
	}
}

// SaveConfig saves the current configuration to the config file
func SaveConfig(config *Config) error {
	configPath := getConfigPath()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}

// ShowConfig prints the configuration and the source of each value
func (c *Config) ShowConfig() {
	configPath := getConfigPath()

	fmt.Println("\n=== dnsjump Configuration ===")
	fmt.Printf("Config File: %s\n", configPath)

	// Check if config file exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config File Status: exists\n")
	} else {
		fmt.Printf("Config File Status: not found\n")
	}

	fmt.Println("\n--- Configuration Values ---")
	fmt.Println("(Format: Setting = Value [source])")

	// Helper to get source or default
	getSource := func(key string) string {
		if source, ok := c.sources[key]; ok {
			return source
		}
		return string(SourceDefault)
	}

	fmt.Println("\nStorage:")
	fmt.Printf("  profiles     = %s [%s]\n", c.ProfilesPath, getSource("profilesPath"))

	fmt.Println("\nLogging:")
	fmt.Printf("  log-level    = %s [%s]\n", c.LogLevel, getSource("logLevel"))

	fmt.Println("\nHTTP Server:")
	fmt.Printf("  http-addr    = %s [%s]\n", c.HTTPAddr, getSource("httpAddr"))
	if c.SocketPath != "" {
		fmt.Printf("  socket       = %s [%s]\n", c.SocketPath, getSource("socketPath"))
	}

	// Source legend
	fmt.Println("\n--- Source Legend ---")
	fmt.Println("  default     = Built-in default value")
	fmt.Println("  file        = Loaded from config file")
	fmt.Println("  environment = Set via environment variable")
	fmt.Println("  cli         = Provided as command-line argument")
	fmt.Println("\nPriority: cli > environment > file > default")
	fmt.Println()
}
