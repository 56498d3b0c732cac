// Package llmc indexes a source repository into a queryable, code-aware
// retrieval store: files are split into spans, spans are enriched by a
// cascade of LLM backends, and the result is searchable by full text,
// vector similarity, and code entity graph traversal. See the daemon
// package for the long-running process that keeps an index current,
// and the enrich package for the pipeline that fills it in.
package llmc

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for an llmc engine instance.
type Config struct {
	// DBPath is the full path to the SQLite database file. If empty,
	// defaults to ~/.llmc/<DBName>.db.
	DBPath string `json:"db_path"`

	// DBName names the database file when DBPath is unset. Defaults to "llmc".
	DBName string `json:"db_name"`

	// StorageDir controls where the database lives when DBPath is
	// unset: "home" (default) uses ~/.llmc/, "local" uses the working
	// directory.
	StorageDir string `json:"storage_dir"`

	// RepoRoot is the absolute path of the repository being indexed.
	RepoRoot string `json:"repo_root"`

	// Backends is the ordered pool of LLM backends available to the
	// router. The router's Routes select a subset, in cascade order,
	// per content type/language.
	Backends []BackendSpec `json:"backends"`

	// Routes maps a routing key ("content_type" or "content_type:language")
	// to the ordered list of backend names to try, most-preferred first.
	Routes map[string][]string `json:"routes"`

	// EmbeddingProfiles names the embedding configurations available
	// for vector search. Most repos need exactly one; more than one is
	// useful when comparing models.
	EmbeddingProfiles []EmbeddingProfile `json:"embedding_profiles"`

	// Scheduler controls weight-respecting, starvation-bounded span
	// selection for enrichment.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Daemon controls the idle-throttled processing loop.
	Daemon DaemonConfig `json:"daemon"`

	// Lock controls lease TTLs per resource class.
	Lock LockConfig `json:"lock"`

	// Sidecar controls binary document conversion to markdown twins.
	Sidecar SidecarConfig `json:"sidecar"`

	// Docgen controls opportunistic per-file documentation generation.
	Docgen DocgenConfig `json:"docgen"`

	// GraphConcurrency bounds parallel LLM calls during code entity/
	// relation extraction.
	GraphConcurrency int `json:"graph_concurrency"`

	// Search tunes hybrid retrieval weighting and embedding routing.
	Search SearchConfig `json:"search"`
}

// SearchConfig tunes hybrid search weighting and embedding routing.
type SearchConfig struct {
	WeightVector     float64 `json:"weight_vector"`
	WeightFTS        float64 `json:"weight_fts"`
	WeightGraph      float64 `json:"weight_graph"`
	EmbeddingProfile string  `json:"embedding_profile"`
	EmbedRouteKey    string  `json:"embed_route_key"`
}

// BackendSpec configures a single LLM backend endpoint.
type BackendSpec struct {
	Name     string  `json:"name"`
	Provider string  `json:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string  `json:"model"`
	BaseURL  string  `json:"base_url"`
	APIKey   string  `json:"api_key"`
	RPS      float64 `json:"rps"`        // rate limiter: requests/sec, 0 disables limiting
	Burst    int     `json:"burst"`      // rate limiter burst size
	CostUSD  float64 `json:"cost_usd"`   // cost per 1K tokens, 0 if untracked
}

// EmbeddingProfile names an embedding backend and its vector dimension.
type EmbeddingProfile struct {
	Name    string `json:"name"`
	Backend string `json:"backend"` // references a BackendSpec.Name
	Dim     int    `json:"dim"`
}

// SchedulerConfig tunes weight-respecting span selection.
type SchedulerConfig struct {
	// PathWeights maps a glob pattern (matched against a span's file's
	// repo-relative path) to a priority weight in [1, 10]; lower means
	// higher priority. When more than one pattern matches a path, the
	// largest (least urgent) weight wins. A path matching no pattern
	// defaults to weight 5.
	PathWeights map[string]int `json:"path_weights"`

	// MaxStarvationRatio bounds how many high-weight spans (weight <=
	// 3) can be dispatched before one low-weight span (weight > 5) is
	// forced through, preventing indefinite starvation of low-priority
	// paths under a strict priority sort.
	MaxStarvationRatio int `json:"max_starvation_ratio"`

	// BatchSize is how many spans a single scheduler pull returns.
	BatchSize int `json:"batch_size"`

	// MaxFailuresPerSpan is how many enrichment attempts a span may
	// accumulate before it's held in cooldown rather than retried on
	// every pull. Zero uses the default of 3.
	MaxFailuresPerSpan int `json:"max_failures_per_span"`
}

// DaemonConfig tunes the idle-throttled background loop.
type DaemonConfig struct {
	BaseInterval   time.Duration `json:"base_interval"`
	MaxMultiplier  int           `json:"max_multiplier"`
	Nice           int           `json:"nice"`
	ShutdownBound  time.Duration `json:"shutdown_bound"`
	WatchPaths     []string      `json:"watch_paths"`
	IgnoreGlobs    []string      `json:"ignore_globs"`
}

// LockConfig tunes lease TTLs per resource class.
type LockConfig struct {
	CritCodeTTL   time.Duration `json:"crit_code_ttl"`
	CritDBTTL     time.Duration `json:"crit_db_ttl"`
	MergeMetaTTL  time.Duration `json:"merge_meta_ttl"`
	IdempDocsTTL  time.Duration `json:"idemp_docs_ttl"`
}

// SidecarConfig tunes binary document conversion.
type SidecarConfig struct {
	Enabled    bool     `json:"enabled"`
	Extensions []string `json:"extensions"` // e.g. [".pdf", ".docx", ".pptx", ".rtf"]
}

// DocgenConfig tunes opportunistic per-file documentation generation.
type DocgenConfig struct {
	Enabled     bool   `json:"enabled"`
	BackendName string `json:"backend_name"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference against an Ollama server. The database lives in
// ~/.llmc/llmc.db unless overridden.
func DefaultConfig() Config {
	return Config{
		DBName:     "llmc",
		StorageDir: "home",
		Backends: []BackendSpec{
			{Name: "local-chat", Provider: "ollama", Model: "qwen2.5-coder:7b", BaseURL: "http://localhost:11434", RPS: 4, Burst: 4},
			{Name: "local-embed", Provider: "ollama", Model: "nomic-embed-text", BaseURL: "http://localhost:11434", RPS: 8, Burst: 8},
		},
		Routes: map[string][]string{
			"code":  {"local-chat"},
			"prose": {"local-chat"},
			"embed": {"local-embed"},
		},
		EmbeddingProfiles: []EmbeddingProfile{
			{Name: "default", Backend: "local-embed", Dim: 768},
		},
		Scheduler: SchedulerConfig{
			PathWeights:        map[string]int{"*_test.go": 7, "vendor/*": 10, "*.md": 6},
			MaxStarvationRatio: 5,
			BatchSize:          16,
			MaxFailuresPerSpan: 3,
		},
		Daemon: DaemonConfig{
			BaseInterval:  2 * time.Second,
			MaxMultiplier: 16,
			Nice:          10,
			ShutdownBound: 30 * time.Second,
			IgnoreGlobs:   []string{"**/.git/**", "**/node_modules/**", "**/vendor/**"},
		},
		Lock: LockConfig{
			CritCodeTTL:  10 * time.Second,
			CritDBTTL:    30 * time.Second,
			MergeMetaTTL: 5 * time.Second,
			IdempDocsTTL: 5 * time.Minute,
		},
		Sidecar: SidecarConfig{
			Enabled:    true,
			Extensions: []string{".pdf", ".docx", ".pptx", ".rtf"},
		},
		Docgen: DocgenConfig{
			Enabled:     false,
			BackendName: "local-chat",
		},
		GraphConcurrency: 16,
		Search: SearchConfig{
			WeightVector:     1.0,
			WeightFTS:        1.0,
			WeightGraph:      0.5,
			EmbeddingProfile: "default",
			EmbedRouteKey:    "embed",
		},
	}
}

// Validate checks invariants that the rest of the engine assumes hold:
// every route must reference a known backend, and every embedding
// profile must reference a known backend.
func (c *Config) Validate() error {
	if c.RepoRoot == "" {
		return fmt.Errorf("%w: repo_root is required", ErrInvalidConfig)
	}
	names := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("%w: backend missing name", ErrInvalidConfig)
		}
		names[b.Name] = true
	}
	for route, chain := range c.Routes {
		for _, name := range chain {
			if !names[name] {
				return fmt.Errorf("%w: route %q references unknown backend %q", ErrInvalidConfig, route, name)
			}
		}
	}
	for _, p := range c.EmbeddingProfiles {
		if !names[p.Backend] {
			return fmt.Errorf("%w: embedding profile %q references unknown backend %q", ErrInvalidConfig, p.Name, p.Backend)
		}
		if p.Dim <= 0 {
			return fmt.Errorf("%w: embedding profile %q has non-positive dim", ErrInvalidConfig, p.Name)
		}
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "llmc"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".llmc", name+".db")
	}
}
