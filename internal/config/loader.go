package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// DefaultEnvFile is read from the working directory when present.
	DefaultEnvFile = ".env"
)

// envAliases maps the flat variable names used by earlier deployments to
// their config paths.
var envAliases = map[string]string{
	"OPENAI_API_KEY":       "providers.openai_api_key",
	"ANTHROPIC_API_KEY":    "providers.anthropic_api_key",
	"GOOGLE_API_KEY":       "providers.google_api_key",
	"HF_TOKEN":             "providers.hf_token",
	"MODEL_NAME":           "llm.model",
	"LLM_PROVIDER":         "llm.provider",
	"EMBEDDING_MODEL":      "embedding.model",
	"EMBEDDING_PROVIDER":   "embedding.provider",
	"CHROMA_PERSIST_DIR":   "store.persist_dir",
	"IS_CHROMA_PERSISTENT": "store.persistent",
}

// sections lists the top-level keys that SECTION_FIELD variables may target.
// Anything else in the environment is ignored.
var sections = map[string]bool{
	"server":        true,
	"llm":           true,
	"embedding":     true,
	"store":         true,
	"qdrant":        true,
	"retrieval":     true,
	"generation":    true,
	"session":       true,
	"transcript":    true,
	"chunking":      true,
	"observability": true,
	"providers":     true,
}

// listKeys are comma-separated when supplied through the environment.
var listKeys = map[string]bool{
	"server.cors_origins":  true,
	"transcript.languages": true,
}

// LoadWithFile loads configuration from defaults, a YAML file, a .env file
// and environment variables, in increasing order of precedence.
//
// If configPath is empty, ~/.config/vidqa/config.yaml is used when it
// exists. Config files must live in ~/.config/vidqa/ or /etc/vidqa/, have
// 0600 or 0400 permissions and be at most 1MB.
//
// Environment variables map SECTION_FIELD to section.field:
//
//	SERVER_HTTP_PORT     -> server.http_port
//	RETRIEVAL_K          -> retrieval.k
//	SESSION_BACKEND      -> session.backend
//
// The flat names OPENAI_API_KEY, MODEL_NAME, LLM_PROVIDER, EMBEDDING_MODEL,
// EMBEDDING_PROVIDER, HF_TOKEN, CHROMA_PERSIST_DIR and IS_CHROMA_PERSISTENT
// are accepted as aliases.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "vidqa", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// .env never overrides variables already present in the environment.
	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DefaultEnvFile, err)
	}

	if err := k.Load(env.ProviderWithValue("", ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// transformEnv maps an environment variable to a config path and value.
// Returning an empty key makes koanf skip the variable.
func transformEnv(key, value string) (string, interface{}) {
	path := envKeyToPath(key)
	if path == "" {
		return "", nil
	}
	if listKeys[path] {
		return path, splitList(value)
	}
	return path, value
}

func envKeyToPath(key string) string {
	if alias, ok := envAliases[key]; ok {
		return alias
	}

	lower := strings.ToLower(key)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || parts[1] == "" || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readConfigFile(path string) ([]byte, error) {
	// Validate on the open descriptor to avoid a stat/open race.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks the path is inside an allowed directory.
// It runs even if the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "vidqa"),
		"/etc/vidqa",
	}
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/vidqa/ or /etc/vidqa/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
