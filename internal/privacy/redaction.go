// Package privacy implements the PrivacyGuard: the mandatory sanitization
// gate in front of any payload leaving the process (spec §4.7). It is
// adapted from the teacher's infrastructure/redaction package, extended with
// named PII categories so callers can log *what* was redacted without ever
// logging the raw value.
package privacy

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Category identifies a class of sensitive content a pattern matched.
type Category string

const (
	CategorySecret Category = "secret"
	CategoryPhone  Category = "phone"
	CategoryEmail  Category = "email"
	CategoryIDCard Category = "id_card"
	CategoryBank   Category = "bank_card"
)

type namedPattern struct {
	category Category
	re       *regexp.Regexp
}

var patterns = []namedPattern{
	{CategorySecret, regexp.MustCompile(`(?i)(api[_-]?key|apikey)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`)},
	{CategorySecret, regexp.MustCompile(`(?i)(secret|token|auth)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`)},
	{CategorySecret, regexp.MustCompile(`(?i)Bearer\s+([a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+)`)},
	{CategorySecret, regexp.MustCompile(`(?i)password["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`)},
	{CategorySecret, regexp.MustCompile(`(?i)(private[_-]?key|privkey)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`)},
	{CategorySecret, regexp.MustCompile(`(?i)(access[_-]?key|aws[_-]?secret)["']?\s*[:=]\s*["']?([^"'\s,}]+)["']?`)},
	{CategoryIDCard, regexp.MustCompile(`\b\d{17}[\dXx]\b`)},                                   // CN resident ID number
	{CategoryBank, regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4,7}\b`)},          // bank/card PAN
	{CategoryPhone, regexp.MustCompile(`\b(?:\+?86)?1[3-9]\d{9}\b`)},                            // CN mobile
	{CategoryEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)}, // email
}

// SecretConfig controls the redactor's behavior.
type SecretConfig struct {
	Enabled         bool
	RedactionText   string
	AllowedFields   []string
	BlockedPatterns []string
}

// DefaultConfig returns the redactor defaults used by PrivacyGuard.
func DefaultConfig() SecretConfig {
	return SecretConfig{
		Enabled:       true,
		RedactionText: "***REDACTED***",
		AllowedFields: []string{},
		BlockedPatterns: []string{
			"password",
			"secret",
			"token",
			"apikey",
			"private_key",
			"credential",
		},
	}
}

// Redactor applies pattern-based substring redaction to strings and maps.
type Redactor struct {
	config SecretConfig
}

// NewRedactor constructs a Redactor from the given configuration.
func NewRedactor(cfg SecretConfig) *Redactor {
	if cfg.RedactionText == "" {
		cfg.RedactionText = "***REDACTED***"
	}
	return &Redactor{config: cfg}
}

// RedactString replaces every pattern match in s with the configured marker.
func (r *Redactor) RedactString(s string) string {
	out, _ := r.redactWithCategories(s)
	return out
}

// RedactStringCategorized behaves like RedactString but also returns the
// distinct categories that were matched, for category-only audit logging.
func (r *Redactor) RedactStringCategorized(s string) (string, []Category) {
	return r.redactWithCategories(s)
}

func (r *Redactor) redactWithCategories(s string) (string, []Category) {
	if !r.config.Enabled {
		return s, nil
	}

	result := s
	seen := map[Category]bool{}
	var hit []Category
	for _, p := range patterns {
		if p.re.MatchString(result) {
			if !seen[p.category] {
				seen[p.category] = true
				hit = append(hit, p.category)
			}
			result = p.re.ReplaceAllString(result, r.config.RedactionText)
		}
	}
	return result, hit
}

// RedactMap walks m recursively, redacting values of blocked field names and
// scanning remaining string values for embedded PII/secret patterns.
func (r *Redactor) RedactMap(m map[string]interface{}) map[string]interface{} {
	if !r.config.Enabled {
		return m
	}

	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch {
		case r.isSecretField(k):
			result[k] = r.config.RedactionText
		case v == nil:
			result[k] = v
		default:
			switch val := v.(type) {
			case string:
				result[k] = r.RedactString(val)
			case map[string]interface{}:
				result[k] = r.RedactMap(val)
			case []interface{}:
				result[k] = r.RedactSlice(val)
			default:
				result[k] = v
			}
		}
	}

	return result
}

// RedactSlice redacts every string/map element of s.
func (r *Redactor) RedactSlice(s []interface{}) []interface{} {
	if !r.config.Enabled {
		return s
	}

	result := make([]interface{}, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case string:
			result[i] = r.RedactString(val)
		case map[string]interface{}:
			result[i] = r.RedactMap(val)
		default:
			result[i] = val
		}
	}

	return result
}

func (r *Redactor) isSecretField(fieldName string) bool {
	lowerName := strings.ToLower(fieldName)
	for _, blocked := range r.config.BlockedPatterns {
		if strings.Contains(lowerName, strings.ToLower(blocked)) {
			return true
		}
	}
	return false
}

// Guard is the PrivacyGuard: the single sanitization gate every payload
// leaving the process (or entering a log sink) must pass through (spec §4.7).
type Guard struct {
	redactor *Redactor
}

// NewGuard constructs a PrivacyGuard with the default redaction config.
func NewGuard() *Guard {
	return &Guard{redactor: NewRedactor(DefaultConfig())}
}

// Sanitize redacts s and returns the sanitized text plus the categories of
// content that were found, so the caller can log "redacted: phone,email"
// without ever logging the raw value (spec: "redactions are logged by
// category, never by raw value").
func (g *Guard) Sanitize(s string) (string, []Category) {
	return g.redactor.RedactStringCategorized(s)
}

// SanitizeMap redacts every string value reachable from m.
func (g *Guard) SanitizeMap(m map[string]interface{}) map[string]interface{} {
	return g.redactor.RedactMap(m)
}

// RedactionHook is a logrus.Hook that runs the PrivacyGuard over every field
// value and the message of every entry before it reaches a sink, so a stray
// api_key or customer phone number in a WithField/WithTrace call never makes
// it into a log line (spec §4.7, L0: "sensitive substrings are redacted
// before emission").
type RedactionHook struct {
	redactor *Redactor
}

// NewRedactionHook builds a RedactionHook with the default redaction config.
func NewRedactionHook() *RedactionHook {
	return &RedactionHook{redactor: NewRedactor(DefaultConfig())}
}

// Levels fires the hook for every level; redaction is not optional by level.
func (h *RedactionHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire redacts entry.Message and every entry.Data value in place.
func (h *RedactionHook) Fire(entry *logrus.Entry) error {
	entry.Message = h.redactor.RedactString(entry.Message)
	for k, v := range entry.Data {
		switch val := v.(type) {
		case string:
			entry.Data[k] = h.redactor.RedactString(val)
		case error:
			entry.Data[k] = h.redactor.RedactString(val.Error())
		case map[string]interface{}:
			entry.Data[k] = h.redactor.RedactMap(val)
		}
	}
	return nil
}
