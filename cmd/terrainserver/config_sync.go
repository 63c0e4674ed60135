package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	get "github.com/hashicorp/go-getter"
	"gopkg.in/yaml.v3"

	"voxelterrain/internal/config"
)

// writeConfigFromEnv materializes a configuration passed through the
// environment at cfgPath. It reports whether anything was written.
func writeConfigFromEnv(cfgPath string) (bool, error) {
	jsonPayload := os.Getenv("TERRAIN_CONFIG_JSON")
	yamlPayload := os.Getenv("TERRAIN_CONFIG_YAML_B64")

	if jsonPayload == "" && yamlPayload == "" {
		return false, nil
	}
	if cfgPath == "" {
		return false, errors.New("configuration provided through the environment but no --config path supplied")
	}

	cfg := config.Default()
	if jsonPayload != "" {
		if err := json.Unmarshal([]byte(jsonPayload), cfg); err != nil {
			return false, fmt.Errorf("decode config json: %w", err)
		}
	} else {
		data, err := base64.StdEncoding.DecodeString(yamlPayload)
		if err != nil {
			return false, fmt.Errorf("decode config yaml: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return false, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("validate config: %w", err)
	}

	dir := filepath.Dir(cfgPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create config directory: %w", err)
		}
	}
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(cfgPath)) {
	case ".yml", ".yaml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return false, fmt.Errorf("write config file: %w", err)
	}
	return true, nil
}

// fetchConfig downloads a single configuration file from src into dir,
// keeping the source's extension so the format is detected on load. src may
// be anything go-getter understands: a local path, http(s), s3, git and so on.
func fetchConfig(src, dir string) (string, error) {
	if src == "" {
		return "", errors.New("config source is empty")
	}
	dst := filepath.Join(dir, "terrain"+sourceExt(src))
	if err := get.GetFile(dst, src); err != nil {
		return "", fmt.Errorf("get %s: %w", src, err)
	}
	return dst, nil
}

func sourceExt(src string) string {
	p := src
	if i := strings.Index(p, "::"); i >= 0 {
		p = p[i+2:]
	}
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		p = u.Path
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".yml", ".yaml", ".json":
		return ext
	default:
		return ".json"
	}
}
