package common

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// MaskedValue replaces any sensitive value in log output.
const MaskedValue = "***MASKED***"

// minSecretLen keeps very short resolved values (flags, single digits) from
// blanking unrelated log text.
const minSecretLen = 4

// SensitivePattern represents a pattern to detect and mask sensitive information
type SensitivePattern struct {
	Name        string         // Pattern name (e.g., "token", "credential")
	Regex       *regexp.Regexp // Regular expression to match sensitive data
	Replacement string         // Replacement string
	Keys        []string       // Attribute keys whose whole value is masked (case-insensitive)
}

func keyPattern(name string, keys ...string) SensitivePattern {
	return SensitivePattern{
		Name:        name,
		Regex:       regexp.MustCompile(fmt.Sprintf(`(?i)(%s)(["'\s]*[:=]["'\s]*)([^"',}\]\s&]+)`, strings.Join(keys, "|"))),
		Replacement: "${1}${2}" + MaskedValue,
		Keys:        keys,
	}
}

// DefaultSensitivePatterns covers the credentials a pipeline handles: source
// tokens, webhook URLs, signed artifact links and key=value secrets.
// Order matters: shape based patterns run before the key based ones.
var DefaultSensitivePatterns = []SensitivePattern{
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
		Replacement: "Bearer " + MaskedValue,
	},
	{
		Name:        "github_token",
		Regex:       regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,})\b`),
		Replacement: MaskedValue,
	},
	{
		Name:        "url_userinfo",
		Regex:       regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://[^/:@\s]+):[^@/\s]+@`),
		Replacement: "${1}:" + MaskedValue + "@",
	},
	{
		Name:        "slack_webhook",
		Regex:       regexp.MustCompile(`hooks\.slack\.com/services/[A-Za-z0-9/_-]+`),
		Replacement: "hooks.slack.com/services/" + MaskedValue,
	},
	{
		Name:        "signed_query",
		Regex:       regexp.MustCompile(`(?i)([?&](?:x-amz-signature|x-amz-credential|x-amz-security-token|sig|signature)=)[^&\s"']+`),
		Replacement: "${1}" + MaskedValue,
	},
	keyPattern("password", "password", "passwd", "pwd"),
	keyPattern("token", "token", "access_token", "oauth_token", "oauth-token", "refresh_token"),
	keyPattern("credential", "credential", "secret", "client_secret", "client-secret"),
	keyPattern("authorization", "authorization"),
}

// secretValues are exact strings resolved from secret backends during this
// process. Every masker replaces them wherever they appear.
var secretValues struct {
	sync.RWMutex
	values []string
}

// RegisterSecretValue makes v masked verbatim in all log output.
func RegisterSecretValue(v string) {
	v = strings.TrimSpace(v)
	if len(v) < minSecretLen {
		return
	}
	secretValues.Lock()
	defer secretValues.Unlock()
	if slices.Contains(secretValues.values, v) {
		return
	}
	secretValues.values = append(secretValues.values, v)
	// Longest first so a value containing another is replaced whole.
	slices.SortFunc(secretValues.values, func(a, b string) int { return len(b) - len(a) })
}

func maskSecretValues(s string) string {
	secretValues.RLock()
	defer secretValues.RUnlock()
	for _, v := range secretValues.values {
		if strings.Contains(s, v) {
			s = strings.ReplaceAll(s, v, MaskedValue)
		}
	}
	return s
}

// Masker handles masking of sensitive information in logs
type Masker struct {
	mu       sync.RWMutex
	patterns []SensitivePattern
	enabled  bool
}

// NewMasker creates a new masker with default patterns
func NewMasker() *Masker {
	return &Masker{
		patterns: slices.Clone(DefaultSensitivePatterns),
		enabled:  true,
	}
}

func (m *Masker) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

func (m *Masker) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// AddPattern adds a new sensitive pattern. A pattern without a regex gets one built from its keys.
func (m *Masker) AddPattern(pattern SensitivePattern) {
	if pattern.Regex == nil && len(pattern.Keys) > 0 {
		built := keyPattern(pattern.Name, pattern.Keys...)
		pattern.Regex = built.Regex
		if pattern.Replacement == "" {
			pattern.Replacement = built.Replacement
		}
	}
	m.mu.Lock()
	m.patterns = append(m.patterns, pattern)
	m.mu.Unlock()
}

// IsSensitiveKey reports whether key names a sensitive value.
func (m *Masker) IsSensitiveKey(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled {
		return false
	}
	for _, pattern := range m.patterns {
		for _, sensitiveKey := range pattern.Keys {
			if strings.EqualFold(key, sensitiveKey) {
				return true
			}
		}
	}
	return false
}

// MaskString masks registered secret values and every pattern match in input.
func (m *Masker) MaskString(input string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled {
		return input
	}
	result := maskSecretValues(input)
	for _, pattern := range m.patterns {
		if pattern.Regex == nil {
			continue
		}
		result = pattern.Regex.ReplaceAllString(result, pattern.Replacement)
	}
	return result
}

// MaskValue masks value when key is sensitive, otherwise masks matches inside string values.
func (m *Masker) MaskValue(key string, value interface{}) interface{} {
	if m.IsSensitiveKey(key) {
		return MaskedValue
	}
	switch v := value.(type) {
	case string:
		return m.MaskString(v)
	case []byte:
		return m.MaskString(string(v))
	default:
		return value
	}
}

// MaskKeyValuePairs masks sensitive information in key-value pairs
func (m *Masker) MaskKeyValuePairs(pairs ...any) []any {
	if !m.IsEnabled() {
		return pairs
	}
	result := make([]any, len(pairs))
	for i := 0; i < len(pairs); i += 2 {
		if i+1 >= len(pairs) {
			result[i] = pairs[i]
			continue
		}
		key, value := pairs[i], pairs[i+1]
		result[i] = key
		if keyStr, ok := key.(string); ok {
			result[i+1] = m.MaskValue(keyStr, value)
		} else {
			result[i+1] = value
		}
	}
	return result
}

var globalMasker = NewMasker()

func SetGlobalMasker(masker *Masker) {
	globalMasker = masker
}

func GetGlobalMasker() *Masker {
	return globalMasker
}

// MaskSensitiveData masks s with the global masker, e.g. URLs placed in error text.
func MaskSensitiveData(s string) string {
	return globalMasker.MaskString(s)
}

func EnableMasking(enabled bool) {
	globalMasker.SetEnabled(enabled)
}

func IsMaskingEnabled() bool {
	return globalMasker.IsEnabled()
}
