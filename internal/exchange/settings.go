package exchange

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/exchangelink/exchangelink/internal/resilience"
)

// Settings is the merged configuration of one exchange client: the vendor's
// embedded profile with config overrides applied on top.
type Settings struct {
	Name           string                       `mapstructure:"name"`
	BaseURL        string                       `mapstructure:"base_url"`
	APIKey         string                       `mapstructure:"api_key"`
	SecretKey      string                       `mapstructure:"secret_key"`
	RecvWindow     time.Duration                `mapstructure:"recv_window"`
	Timeout        time.Duration                `mapstructure:"timeout"`
	MaxAcquireWait time.Duration                `mapstructure:"max_acquire_wait"`
	ClockTTL       time.Duration                `mapstructure:"clock_ttl"`
	ClockGrace     time.Duration                `mapstructure:"clock_grace"`
	Margin         float64                      `mapstructure:"rate_limit_margin"`
	Resources      map[string]resilience.Limit  `mapstructure:"resources"`
	Policies       map[string]resilience.Policy `mapstructure:"policies"`
	Codes          map[string]string            `mapstructure:"codes"`
	SkewCodes      []string                     `mapstructure:"skew_codes"`

	// RetryEnabled off makes every policy a single attempt.
	RetryEnabled bool `mapstructure:"retry_enabled"`
	// RateLimiterEnabled off admits every call without budget accounting.
	RateLimiterEnabled bool `mapstructure:"rate_limiter_enabled"`
}

// toggleDefaults apply when neither the profile nor the overrides set them.
var toggleDefaults = map[string]any{
	"retry_enabled":        true,
	"rate_limiter_enabled": true,
}

// LoadSettings decodes an embedded YAML profile and applies overrides.
// Override maps use the same keys as the profile and may be partial.
func LoadSettings(profile []byte, overrides ...map[string]any) (*Settings, error) {
	base := map[string]any{}
	if err := yaml.Unmarshal(profile, &base); err != nil {
		return nil, fmt.Errorf("failed to parse exchange profile: %w", err)
	}
	for key, value := range toggleDefaults {
		if _, ok := base[key]; !ok {
			base[key] = value
		}
	}
	for _, override := range overrides {
		mergeMaps(base, override)
	}

	settings := &Settings{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           settings,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(base); err != nil {
		return nil, fmt.Errorf("failed to decode exchange settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the fields every client needs.
func (s *Settings) Validate() error {
	if s == nil {
		return fmt.Errorf("exchange settings are required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("exchange name is required")
	}
	if strings.TrimSpace(s.BaseURL) == "" {
		return fmt.Errorf("%s: base_url is required", s.Name)
	}
	if len(s.Resources) == 0 {
		return fmt.Errorf("%s: at least one rate limit resource is required", s.Name)
	}
	if s.MaxAcquireWait < 0 || s.ClockTTL < 0 || s.ClockGrace < 0 || s.RecvWindow < 0 {
		return fmt.Errorf("%s: durations must be >= 0", s.Name)
	}
	if _, err := s.CodeTable(); err != nil {
		return err
	}
	return nil
}

// CodeTable resolves the vendor code mapping into canonical kinds.
func (s *Settings) CodeTable() (map[string]resilience.Kind, error) {
	table := make(map[string]resilience.Kind, len(s.Codes))
	for code, name := range s.Codes {
		kind, err := resilience.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("%s: code %s: %w", s.Name, code, err)
		}
		table[strings.TrimSpace(code)] = kind
	}
	return table, nil
}

// SkewCodeSet returns the codes that signal a rejected request timestamp.
func (s *Settings) SkewCodeSet() map[string]bool {
	set := make(map[string]bool, len(s.SkewCodes))
	for _, code := range s.SkewCodes {
		if code = strings.TrimSpace(code); code != "" {
			set[code] = true
		}
	}
	return set
}

// ResourceNames lists configured resources in sorted order.
func (s *Settings) ResourceNames() []string {
	names := make([]string, 0, len(s.Resources))
	for name := range s.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mergeMaps deep-merges src into dst. Keys match case-insensitively since
// viper lowercases config keys while vendor resource names are not.
func mergeMaps(dst, src map[string]any) {
	for key, value := range src {
		key = matchKey(dst, key)
		srcMap, ok := asStringMap(value)
		if !ok {
			dst[key] = value
			continue
		}
		dstMap, ok := asStringMap(dst[key])
		if !ok {
			dstMap = map[string]any{}
		}
		mergeMaps(dstMap, srcMap)
		dst[key] = dstMap
	}
}

func asStringMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func matchKey(m map[string]any, key string) string {
	if _, ok := m[key]; ok {
		return key
	}
	for existing := range m {
		if strings.EqualFold(existing, key) {
			return existing
		}
	}
	return key
}
