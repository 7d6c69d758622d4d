package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CloudApplyRecord is the result of pushing the active rules to a provider.
type CloudApplyRecord struct {
	Time     time.Time `json:"time"`
	Action   string    `json:"action"`
	Status   string    `json:"status"`
	Provider string    `json:"provider"`
	Rules    []Rule    `json:"rules"`
}

// CloudApplier records what would be sent to a cloud firewall provider.
// It performs no network I/O.
type CloudApplier struct {
	mu       sync.RWMutex
	provider string
	last     *CloudApplyRecord
	logger   zerolog.Logger
}

// NewCloudApplier creates an applier for provider (e.g. "aws_waf").
func NewCloudApplier(provider string, logger zerolog.Logger) *CloudApplier {
	if provider == "" {
		provider = "aws_waf"
	}
	return &CloudApplier{
		provider: provider,
		logger:   logger.With().Str("component", "cloud_applier").Logger(),
	}
}

// Apply records a mock apply of rules.
func (c *CloudApplier) Apply(rules []Rule, now time.Time) CloudApplyRecord {
	snapshot := make([]Rule, len(rules))
	for i, r := range rules {
		snapshot[i] = r.Clone()
	}
	rec := CloudApplyRecord{
		Time:     now.UTC(),
		Action:   "mock_apply",
		Status:   "ok",
		Rules:    snapshot,
	}

	c.mu.Lock()
	rec.Provider = c.provider
	c.last = &rec
	c.mu.Unlock()

	c.logger.Info().Str("provider", rec.Provider).Int("rules", len(rules)).Msg("rules applied to cloud provider (mock)")
	return rec
}

// Last returns the most recent apply record.
func (c *CloudApplier) Last() (CloudApplyRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return CloudApplyRecord{}, false
	}
	return *c.last, true
}

// Provider returns the configured provider name.
func (c *CloudApplier) Provider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider
}

// SetProvider switches the provider used by later applies.
func (c *CloudApplier) SetProvider(provider string) {
	if provider == "" {
		provider = "aws_waf"
	}
	c.mu.Lock()
	c.provider = provider
	c.mu.Unlock()
}
