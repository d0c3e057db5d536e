package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all flowrun configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	PublicURL   string `json:"public_url"`
	APIURL      string `json:"api_url"`
	WorkerToken string `json:"worker_token"`
	DBPath      string `json:"db_path"`
	FilesDir    string `json:"files_dir"`
	ProjectID   string `json:"project_id"`
	LogLevel    string `json:"log_level"`
}

func defaultConfig() Config {
	return Config{
		PublicURL: "http://localhost:4200",
		DBPath:    filepath.Join(flowrunDir(), "flowrun.db"),
		FilesDir:  filepath.Join(flowrunDir(), "files"),
		ProjectID: "default",
		LogLevel:  "info",
	}
}

func flowrunDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowrun"
	}
	return filepath.Join(home, ".flowrun")
}

func settingsPath() string {
	return filepath.Join(flowrunDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWRUN_PUBLIC_URL"); v != "" {
		cfg.PublicURL = v
	}
	if v := os.Getenv("FLOWRUN_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("FLOWRUN_WORKER_TOKEN"); v != "" {
		cfg.WorkerToken = v
	}
	if v := os.Getenv("FLOWRUN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWRUN_FILES_DIR"); v != "" {
		cfg.FilesDir = v
	}
	if v := os.Getenv("FLOWRUN_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("FLOWRUN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if cfg.APIURL == "" {
		cfg.APIURL = cfg.PublicURL
	}

	return cfg
}
