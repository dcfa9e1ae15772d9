package search

import (
	"time"

	"github.com/google/uuid"
)

// Hit is one search result. Hits never carry the stored vector; callers that
// need it fetch the full record through the embedding store.
type Hit struct {
	ID         uuid.UUID
	SourceType string
	SourceRef  string
	Content    string
	Metadata   map[string]string
	CreatedAt  time.Time
	// Similarity is cosine similarity clamped to [0,1]. Identical vectors
	// score ~1.0, orthogonal ones 0.
	Similarity float32
}

// Config carries the tenant-independent search bounds, wired from the app
// configuration.
type Config struct {
	// DefaultTopK is used when a call passes no WithTopK option.
	DefaultTopK int
	// MaxTopK is the hard upper bound enforced on WithTopK.
	MaxTopK int
	// DefaultThreshold is the minimum similarity when WithThreshold is absent.
	DefaultThreshold float32
}

// DefaultConfig returns the stock search bounds.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:      5,
		MaxTopK:          100,
		DefaultThreshold: 0.7,
	}
}

// Option configures a single search call using the functional options
// pattern.
type Option func(*searchConfig)

// searchConfig holds the per-call configuration after options are applied.
type searchConfig struct {
	topK           int
	threshold      float32
	sourceTypes    []string
	metadataFilter map[string]string
}

// WithTopK sets the maximum number of hits to return. Must be in
// [1, Config.MaxTopK]; out-of-range values fail the call with ErrTopKRange.
func WithTopK(k int) Option {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithThreshold sets the minimum similarity a hit must reach. Must be in
// [0, 1]; out-of-range values fail the call with ErrThresholdRange.
func WithThreshold(threshold float32) Option {
	return func(c *searchConfig) {
		c.threshold = threshold
	}
}

// WithSourceTypes restricts hits to the given source type labels.
func WithSourceTypes(types ...string) Option {
	return func(c *searchConfig) {
		c.sourceTypes = types
	}
}

// WithMetadataFilter requires hits whose metadata contains the given
// key-value pair. Multiple calls add filters with AND logic.
func WithMetadataFilter(key, value string) Option {
	return func(c *searchConfig) {
		if c.metadataFilter == nil {
			c.metadataFilter = make(map[string]string)
		}
		c.metadataFilter[key] = value
	}
}

// buildSearchConfig starts from the engine defaults and applies options.
// An explicit WithThreshold(0) therefore overrides a non-zero default.
func (e *Engine) buildSearchConfig(opts []Option) *searchConfig {
	cfg := &searchConfig{
		topK:      e.cfg.DefaultTopK,
		threshold: e.cfg.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// validate range-checks the applied configuration.
func (c *searchConfig) validate(maxTopK int) error {
	if c.topK < 1 || c.topK > maxTopK {
		return errTopKRange(c.topK, maxTopK)
	}
	if c.threshold < 0 || c.threshold > 1 {
		return errThresholdRange(c.threshold)
	}
	return nil
}
