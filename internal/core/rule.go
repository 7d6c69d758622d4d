package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidAction is returned when a rule names an action outside {block, rate_limit, allow}.
var ErrInvalidAction = errors.New("invalid action")

// Action is the mitigation directive a rule applies to its source.
type Action string

const (
	ActionBlock     Action = "block"
	ActionRateLimit Action = "rate_limit"
	ActionAllow     Action = "allow"
)

// ParseAction converts a case-insensitive string into an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block":
		return ActionBlock, nil
	case "rate_limit", "ratelimit":
		return ActionRateLimit, nil
	case "allow":
		return ActionAllow, nil
	default:
		return Action(s), fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// Parameter keys understood by the rule lifecycle.
const (
	ParamExpireMinutes      = "expire_minutes"
	ParamRateLimitPerSecond = "rate_limit_per_second"
)

// Defaults applied by the synthesizer.
const (
	BlockExpireMinutes     = 30
	RateLimitExpireMinutes = 60
	RateLimitPerSecond     = 50

	// fallbackExpireMinutes is used when a rule carries no usable expire_minutes.
	fallbackExpireMinutes = 60

	// MaxExpireMinutes is the longest TTL a time.Duration can hold.
	MaxExpireMinutes = math.MaxInt64 / int64(time.Minute)
)

// RuleParams holds the action parameters of a rule.
type RuleParams map[string]interface{}

// ExpireMinutes returns the rule TTL in minutes. Values decoded from JSON or a
// database arrive as float64 or strings, so all numeric forms are accepted.
func (p RuleParams) ExpireMinutes() int {
	if n, ok := toInt(p[ParamExpireMinutes]); ok {
		return n
	}
	return fallbackExpireMinutes
}

// Clone returns a shallow copy of the parameter map.
func (p RuleParams) Clone() RuleParams {
	out := make(RuleParams, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// toInt accepts whole numbers only. Fractions and strings with trailing
// garbage are not numbers of minutes.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func floatToInt(f float64) (int, bool) {
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int(f), true
}

// Rule is a time-boxed mitigation directive scoped to one source.
type Rule struct {
	SourceID  string     `json:"source_id"`
	Action    Action     `json:"action"`
	Params    RuleParams `json:"parameters"`
	Reason    string     `json:"reason"`
	AppliedAt time.Time  `json:"applied_at"`
}

// ExpiresAt is the instant after which the rule is no longer active.
// TTLs past MaxExpireMinutes saturate instead of wrapping around.
func (r Rule) ExpiresAt() time.Time {
	minutes := r.Params.ExpireMinutes()
	if int64(minutes) > MaxExpireMinutes {
		return r.AppliedAt.Add(time.Duration(math.MaxInt64))
	}
	return r.AppliedAt.Add(time.Duration(minutes) * time.Minute)
}

// Expired reports whether now is strictly past the rule's expiry.
func (r Rule) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt())
}

// Clone returns a copy that shares no mutable state with r.
func (r Rule) Clone() Rule {
	r.Params = r.Params.Clone()
	return r
}

// Validate checks a manually supplied rule before it reaches the store.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return fmt.Errorf("rule has no source_id")
	}
	if _, err := ParseAction(string(r.Action)); err != nil {
		return err
	}
	if v, present := r.Params[ParamExpireMinutes]; present {
		n, ok := toInt(v)
		switch {
		case !ok:
			return fmt.Errorf("expire_minutes must be a whole number of minutes, got %v", v)
		case n < 0:
			return fmt.Errorf("expire_minutes must not be negative, got %d", n)
		case int64(n) > MaxExpireMinutes:
			return fmt.Errorf("expire_minutes must not exceed %d, got %d", MaxExpireMinutes, n)
		}
	}
	return nil
}

// Synthesize maps one alert to at most one rule. Alerts without a source are
// skipped and return (nil, nil). The caller commits the result to a store.
func Synthesize(alert Alert, now time.Time) (*Rule, error) {
	if strings.TrimSpace(alert.SourceID) == "" {
		return nil, nil
	}

	rule := &Rule{
		SourceID:  alert.SourceID,
		Reason:    string(alert.Kind),
		AppliedAt: now.UTC(),
	}

	switch alert.Severity {
	case SeverityHigh:
		rule.Action = ActionBlock
		rule.Params = RuleParams{ParamExpireMinutes: BlockExpireMinutes}
	case SeverityMedium:
		rule.Action = ActionRateLimit
		rule.Params = RuleParams{
			ParamRateLimitPerSecond: RateLimitPerSecond,
			ParamExpireMinutes:      RateLimitExpireMinutes,
		}
	default:
		return nil, fmt.Errorf("%w: %q for source %s", ErrInvalidSeverity, alert.Severity, alert.SourceID)
	}

	return rule, nil
}
