package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"elevenlabs"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${ENV_VAR} references
// against the process environment, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = expandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Session.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} references with environment variable values.
// Bare $VAR is left untouched so that YAML strings containing dollar signs do
// not need escaping; only the braced form is expanded. Unset variables expand
// to the empty string.
func expandEnv(raw []byte) []byte {
	return []byte(os.Expand(string(raw), func(name string) string {
		if name == "$" {
			return "$"
		}
		return os.Getenv(name)
	}))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for _, e := range cfg.Fallbacks.STT {
		validateProviderName("stt", e.Name)
	}
	for _, e := range cfg.Fallbacks.LLM {
		validateProviderName("llm", e.Name)
	}
	for _, e := range cfg.Fallbacks.TTS {
		validateProviderName("tts", e.Name)
	}

	// A conversation pipeline needs all three stages.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required"))
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	// Memory availability
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; long-term learner memory will not be available")
	}

	// Languages
	codesSeen := make(map[string]int, len(cfg.Languages))
	defaults := 0
	for i, lang := range cfg.Languages {
		prefix := fmt.Sprintf("languages[%d]", i)
		if lang.Code == "" {
			errs = append(errs, fmt.Errorf("%s.code is required", prefix))
		} else {
			if prev, ok := codesSeen[lang.Code]; ok {
				errs = append(errs, fmt.Errorf("%s.code %q is a duplicate of languages[%d]", prefix, lang.Code, prev))
			}
			codesSeen[lang.Code] = i
		}
		if lang.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if lang.SpeedFactor != 0 {
			if lang.SpeedFactor < 0.5 || lang.SpeedFactor > 2.0 {
				errs = append(errs, fmt.Errorf("%s.speed_factor %.2f is out of range [0.5, 2.0]", prefix, lang.SpeedFactor))
			}
		}
		if lang.Default {
			defaults++
		}
	}
	if len(cfg.Languages) == 0 {
		errs = append(errs, errors.New("at least one language must be configured"))
	}
	if defaults > 1 {
		errs = append(errs, fmt.Errorf("%d languages are marked default; at most one is allowed", defaults))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
