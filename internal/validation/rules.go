package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kartoteket/kundeimport/internal/domain"

	playground "github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

// violation is a rule finding before it is bound to a batch row.
type violation struct {
	Code       string
	Message    string
	Suggestion string
}

// ruleFunc evaluates one rule against one mapped value. A nil return means
// the rule passed. present reports whether the field resolved at all.
type ruleFunc func(field string, value string, present bool, rule domain.ValidationRule) *violation

var fieldValidator = playground.New(playground.WithRequiredStructEnabled())

var postnummerPattern = regexp.MustCompile(`^\d{4}$`)

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
}

// rules dispatches the closed ValidationType enum. unique and uniqueInBatch
// are absent here: they need cross-row context and run in the validator's
// full-batch duplicate pass.
var rules = map[domain.ValidationType]ruleFunc{
	domain.ValidateRequired:   ruleRequired,
	domain.ValidateMinLength:  ruleMinLength,
	domain.ValidateMaxLength:  ruleMaxLength,
	domain.ValidatePattern:    rulePattern,
	domain.ValidateEmail:      ruleEmail,
	domain.ValidatePhone:      rulePhone,
	domain.ValidatePostnummer: rulePostnummer,
	domain.ValidateDate:       ruleDate,
	domain.ValidateDateRange:  ruleDateRange,
	domain.ValidateNumber:     ruleNumber,
	domain.ValidateInteger:    ruleInteger,
	domain.ValidateRange:      ruleRange,
	domain.ValidateEnum:       ruleEnum,
}

func ruleRequired(field, value string, present bool, _ domain.ValidationRule) *violation {
	if !present || strings.TrimSpace(value) == "" {
		return &violation{
			Code:    domain.CodeRequiredMissing,
			Message: fmt.Sprintf("required field %q is missing", field),
		}
	}
	return nil
}

func ruleMinLength(field, value string, present bool, rule domain.ValidationRule) *violation {
	if !present || rule.Min == nil {
		return nil
	}
	if len([]rune(value)) < int(*rule.Min) {
		return &violation{
			Code:    domain.CodeMinLength,
			Message: fmt.Sprintf("field %q must have at least %d characters", field, int(*rule.Min)),
		}
	}
	return nil
}

func ruleMaxLength(field, value string, present bool, rule domain.ValidationRule) *violation {
	if !present || rule.Max == nil {
		return nil
	}
	if len([]rune(value)) > int(*rule.Max) {
		return &violation{
			Code:       domain.CodeMaxLength,
			Message:    fmt.Sprintf("field %q exceeds %d characters", field, int(*rule.Max)),
			Suggestion: "shorten the value or split it across fields",
		}
	}
	return nil
}

func rulePattern(field, value string, present bool, rule domain.ValidationRule) *violation {
	if !present || rule.Pattern == "" {
		return nil
	}
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return &violation{
			Code:    domain.CodePatternMismatch,
			Message: fmt.Sprintf("field %q has an invalid validation pattern: %v", field, err),
		}
	}
	if !re.MatchString(value) {
		return &violation{
			Code:    domain.CodePatternMismatch,
			Message: fmt.Sprintf("field %q does not match the expected pattern", field),
		}
	}
	return nil
}

func ruleEmail(field, value string, present bool, _ domain.ValidationRule) *violation {
	if !present {
		return nil
	}
	if err := fieldValidator.Var(value, "email"); err != nil {
		return &violation{
			Code:       domain.CodeInvalidEmail,
			Message:    fmt.Sprintf("field %q is not a valid email address", field),
			Suggestion: "check for typos in the address",
		}
	}
	return nil
}

func rulePhone(field, value string, present bool, _ domain.ValidationRule) *violation {
	if !present {
		return nil
	}
	parsed, err := libphonenumber.Parse(value, "NO")
	if err != nil || !libphonenumber.IsValidNumber(parsed) {
		return &violation{
			Code:    domain.CodeInvalidPhone,
			Message: fmt.Sprintf("field %q is not a valid phone number", field),
		}
	}
	return nil
}

func rulePostnummer(field, value string, present bool, _ domain.ValidationRule) *violation {
	if !present {
		return nil
	}
	if !postnummerPattern.MatchString(value) {
		return &violation{
			Code:       domain.CodeInvalidPostnummer,
			Message:    fmt.Sprintf("field %q must be a four digit postnummer", field),
			Suggestion: "postnummer must have exactly 4 digits, including leading zeros",
		}
	}
	return nil
}

func ruleDate(field, value string, present bool, _ domain.ValidationRule) *violation {
	if !present {
		return nil
	}
	if _, err := parseDate(value); err != nil {
		return &violation{
			Code:    domain.CodeInvalidDate,
			Message: fmt.Sprintf("field %q is not a recognizable date", field),
		}
	}
	return nil
}

func ruleDateRange(field, value string, present bool, rule domain.ValidationRule) *violation {
	if !present {
		return nil
	}
	ts, err := parseDate(value)
	if err != nil {
		return &violation{
			Code:    domain.CodeInvalidDate,
			Message: fmt.Sprintf("field %q is not a recognizable date", field),
		}
	}
	if rule.MinDate != "" {
		if min, err := parseDate(rule.MinDate); err == nil && ts.Before(min) {
			return &violation{
				Code:    domain.CodeDateOutOfRange,
				Message: fmt.Sprintf("field %q is before %s", field, rule.MinDate),
			}
		}
	}
	if rule.MaxDate != "" {
		if max, err := parseDate(rule.MaxDate); err == nil && ts.After(max) {
			return &violation{
				Code:    domain.CodeDateOutOfRange,
				Message: fmt.Sprintf("field %q is after %s", field, rule.MaxDate),
			}
		}
	}
	return nil
}

func ruleNumber(field, value string, present bool, _ domain.ValidationRule) *violation {
	if !present {
		return nil
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return &violation{
			Code:    domain.CodeInvalidNumber,
			Message: fmt.Sprintf("field %q is not a number", field),
		}
	}
	return nil
}

func ruleInteger(field, value string, present bool, _ domain.ValidationRule) *violation {
	if !present {
		return nil
	}
	if _, err := strconv.ParseInt(value, 10, 64); err != nil {
		return &violation{
			Code:    domain.CodeInvalidInteger,
			Message: fmt.Sprintf("field %q is not an integer", field),
		}
	}
	return nil
}

func ruleRange(field, value string, present bool, rule domain.ValidationRule) *violation {
	if !present {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return &violation{
			Code:    domain.CodeInvalidNumber,
			Message: fmt.Sprintf("field %q is not a number", field),
		}
	}
	if rule.Min != nil && f < *rule.Min {
		return &violation{
			Code:    domain.CodeValueOutOfRange,
			Message: fmt.Sprintf("field %q is below the minimum %g", field, *rule.Min),
		}
	}
	if rule.Max != nil && f > *rule.Max {
		return &violation{
			Code:    domain.CodeValueOutOfRange,
			Message: fmt.Sprintf("field %q is above the maximum %g", field, *rule.Max),
		}
	}
	return nil
}

func ruleEnum(field, value string, present bool, rule domain.ValidationRule) *violation {
	if !present || len(rule.Values) == 0 {
		return nil
	}
	for _, allowed := range rule.Values {
		if strings.EqualFold(value, allowed) {
			return nil
		}
	}
	return &violation{
		Code:       domain.CodeInvalidEnum,
		Message:    fmt.Sprintf("field %q must be one of: %s", field, strings.Join(rule.Values, ", ")),
		Suggestion: "use one of the allowed values",
	}
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}
