// Package mapping applies a MappingConfig to raw rows and produces ranked
// mapping suggestions. The engine never guesses mappings on its own;
// suggestions are always subordinate to human confirmation.
package mapping

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kartoteket/kundeimport/internal/domain"
)

// namedDateLayouts are the date formats a MappingConfig can reference by name.
var namedDateLayouts = map[string]string{
	"iso":       "2006-01-02",
	"norwegian": "02.01.2006",
	"uk":        "02/01/2006",
	"us":        "01/02/2006",
}

// fallbackDateLayouts is the fixed order of layouts tried when no date
// format is configured. Day-first layouts come before month-first so
// ambiguous values resolve the Norwegian way.
// Day-first layouts come before month-first so ambiguous dates resolve the
// same way on every call.
var fallbackDateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

// transformers dispatches the closed TransformationType enum. Each entry is a
// pure function; value-level failures return an error and the caller keeps
// the original value for the validator to flag.
var transformers = map[domain.TransformationType]func(value string, rule domain.TransformationRule, opts domain.MappingOptions) (string, error){
	domain.TransformNone:         transformNone,
	domain.TransformTrim:         transformTrim,
	domain.TransformUppercase:    transformUppercase,
	domain.TransformLowercase:    transformLowercase,
	domain.TransformTitlecase:    transformTitlecase,
	domain.TransformParseNumber:  transformParseNumber,
	domain.TransformParseDate:    transformParseDate,
	domain.TransformRegexExtract: transformRegexExtract,
	domain.TransformSplit:        transformSplit,
	domain.TransformLookup:       transformLookup,
}

// ValidateConfig checks a config for structural and rule-level soundness
// before it is applied or saved as a template.
func ValidateConfig(cfg domain.MappingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, col := range cfg.Columns {
		rule := col.Transformation
		if rule == nil {
			continue
		}
		if _, ok := transformers[rule.Type]; !ok {
			return fmt.Errorf("column %q: unknown transformation type %q", col.SourceColumn, rule.Type)
		}
		if rule.Type == domain.TransformRegexExtract {
			if rule.Pattern == "" {
				return fmt.Errorf("column %q: regex_extract requires a pattern", col.SourceColumn)
			}
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return fmt.Errorf("column %q: invalid pattern: %w", col.SourceColumn, err)
			}
		}
		if rule.Type == domain.TransformSplit && rule.Separator == "" {
			return fmt.Errorf("column %q: split requires a separator", col.SourceColumn)
		}
		if rule.Type == domain.TransformLookup && len(rule.Lookup) == 0 {
			return fmt.Errorf("column %q: lookup requires a table", col.SourceColumn)
		}
	}
	return nil
}

// ApplyMapping maps one raw row through the config. It is a pure function:
// the same row and config always yield the same mapped row. Required fields
// with no resolved value are left absent, not defaulted, so the validator
// can flag them as missing.
func ApplyMapping(raw map[string]string, cfg domain.MappingConfig) map[string]any {
	mapped := make(map[string]any, len(cfg.Columns))

	for _, col := range cfg.Columns {
		value := resolveSource(raw, col.SourceColumn)

		transformed := value
		if col.Transformation != nil {
			if fn, ok := transformers[col.Transformation.Type]; ok {
				out, err := fn(value, *col.Transformation, cfg.Options)
				if err == nil {
					transformed = out
				}
				// On value-level failure the original survives untouched so
				// validation can attach a proper error to the field.
			}
		}

		if strings.TrimSpace(transformed) == "" {
			if col.UseDefaultIfEmpty && col.DefaultValue != "" {
				mapped[col.TargetField] = col.DefaultValue
			}
			continue
		}

		mapped[col.TargetField] = typedValue(transformed, col.Transformation)
	}
	return mapped
}

// resolveSource reads a source column, supporting dotted paths for pre-joined
// sources: the full key wins, then the last path segment.
func resolveSource(raw map[string]string, source string) string {
	if value, ok := raw[source]; ok {
		return value
	}
	if idx := strings.LastIndex(source, "."); idx >= 0 {
		if value, ok := raw[source[idx+1:]]; ok {
			return value
		}
	}
	return ""
}

// typedValue converts a transformed string into its natural mapped type.
func typedValue(value string, rule *domain.TransformationRule) any {
	if rule != nil && rule.Type == domain.TransformParseNumber {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}

func transformNone(value string, _ domain.TransformationRule, _ domain.MappingOptions) (string, error) {
	return value, nil
}

func transformTrim(value string, _ domain.TransformationRule, _ domain.MappingOptions) (string, error) {
	return strings.TrimSpace(value), nil
}

func transformUppercase(value string, _ domain.TransformationRule, _ domain.MappingOptions) (string, error) {
	return strings.ToUpper(value), nil
}

func transformLowercase(value string, _ domain.TransformationRule, _ domain.MappingOptions) (string, error) {
	return strings.ToLower(value), nil
}

func transformTitlecase(value string, _ domain.TransformationRule, _ domain.MappingOptions) (string, error) {
	words := strings.Fields(strings.ToLower(value))
	for i, word := range words {
		runes := []rune(word)
		runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		words[i] = string(runes)
	}
	return strings.Join(words, " "), nil
}

// transformParseNumber accepts Norwegian-formatted numbers ("1 234,56") and
// plain decimals, producing a canonical dot-decimal string.
func transformParseNumber(value string, _ domain.TransformationRule, _ domain.MappingOptions) (string, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return "", nil
	}
	candidate = strings.ReplaceAll(candidate, " ", "")
	candidate = strings.ReplaceAll(candidate, " ", "")
	if strings.Contains(candidate, ",") && !strings.Contains(candidate, ".") {
		candidate = strings.ReplaceAll(candidate, ",", ".")
	} else {
		candidate = strings.ReplaceAll(candidate, ",", "")
	}
	f, err := strconv.ParseFloat(candidate, 64)
	if err != nil {
		return "", fmt.Errorf("unable to parse %q as number", value)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func transformParseDate(value string, rule domain.TransformationRule, opts domain.MappingOptions) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}

	var layouts []string
	name := rule.DateFormat
	if name == "" {
		name = opts.DateFormat
	}
	if layout, ok := namedDateLayouts[name]; ok {
		layouts = []string{layout}
	} else {
		layouts = fallbackDateLayouts
	}

	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unable to parse %q as date", value)
}

func transformRegexExtract(value string, rule domain.TransformationRule, _ domain.MappingOptions) (string, error) {
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid extraction pattern: %w", err)
	}
	matches := re.FindStringSubmatch(value)
	group := rule.Group
	if group == 0 && re.NumSubexp() > 0 {
		group = 1
	}
	if matches == nil || group >= len(matches) {
		return "", fmt.Errorf("pattern did not match %q", value)
	}
	return matches[group], nil
}

func transformSplit(value string, rule domain.TransformationRule, _ domain.MappingOptions) (string, error) {
	if rule.Separator == "" {
		return "", fmt.Errorf("split separator not configured")
	}
	parts := strings.Split(value, rule.Separator)
	if rule.Index < 0 || rule.Index >= len(parts) {
		return "", fmt.Errorf("split index %d out of range for %q", rule.Index, value)
	}
	return strings.TrimSpace(parts[rule.Index]), nil
}

func transformLookup(value string, rule domain.TransformationRule, _ domain.MappingOptions) (string, error) {
	if replacement, ok := rule.Lookup[value]; ok {
		return replacement, nil
	}
	for key, replacement := range rule.Lookup {
		if strings.EqualFold(key, value) {
			return replacement, nil
		}
	}
	return "", fmt.Errorf("value %q not present in lookup table", value)
}
