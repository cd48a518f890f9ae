// Package fieldtype defines the data types a metadata column can declare
// and validates candidate cell values against a column's configuration.
// Everything here is pure: no I/O, no clock, same input same verdict.
package fieldtype

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type DataType string

const (
	TypeString      DataType = "STRING"
	TypeText        DataType = "TEXT"
	TypeInteger     DataType = "INTEGER"
	TypeFloat       DataType = "FLOAT"
	TypeBoolean     DataType = "BOOLEAN"
	TypeDate        DataType = "DATE"
	TypeDateTime    DataType = "DATETIME"
	TypeChoice      DataType = "CHOICE"
	TypeMultiChoice DataType = "MULTI_CHOICE"
	TypeJSON        DataType = "JSON"
)

const DateLayout = "2006-01-02"

var dataTypes = []DataType{
	TypeString, TypeText, TypeInteger, TypeFloat, TypeBoolean,
	TypeDate, TypeDateTime, TypeChoice, TypeMultiChoice, TypeJSON,
}

func (d DataType) Valid() bool {
	for _, t := range dataTypes {
		if d == t {
			return true
		}
	}
	return false
}

// DataTypes returns every known data type in presentation order.
func DataTypes() []DataType {
	out := make([]DataType, len(dataTypes))
	copy(out, dataTypes)
	return out
}

// Config holds a column's validation rules. Which fields are meaningful
// depends on the data type; ValidateConfig enforces coherence.
type Config struct {
	Required  bool     `json:"required,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Choices   []string `json:"choices,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

// ValidateConfig rejects incoherent configurations before a column is
// created or updated, so Validate never has to guess at bad rules.
func ValidateConfig(dt DataType, cfg Config) error {
	if !dt.Valid() {
		return fmt.Errorf("unknown data type %q", dt)
	}
	if cfg.Min != nil && cfg.Max != nil && *cfg.Min > *cfg.Max {
		return fmt.Errorf("min %s is greater than max %s", formatNumber(*cfg.Min), formatNumber(*cfg.Max))
	}
	if cfg.MaxLength != nil && *cfg.MaxLength < 1 {
		return errors.New("maxLength must be positive")
	}
	if cfg.Pattern != "" {
		if _, err := regexp.Compile(cfg.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %v", err)
		}
	}
	switch dt {
	case TypeChoice, TypeMultiChoice:
		if len(cfg.Choices) == 0 {
			return errors.New("choice columns need at least one choice")
		}
		seen := make(map[string]struct{}, len(cfg.Choices))
		for _, c := range cfg.Choices {
			if strings.TrimSpace(c) == "" {
				return errors.New("choices must not be empty")
			}
			if _, dup := seen[c]; dup {
				return fmt.Errorf("duplicate choice %q", c)
			}
			seen[c] = struct{}{}
		}
	}
	return nil
}

// Validate checks raw against the declared type and rules and returns
// the coerced value to store. An empty value clears the cell and is only
// rejected when the column is required. Error text is shown to users
// as-is.
func Validate(dt DataType, cfg Config, raw any) (any, error) {
	if isEmpty(raw) {
		if cfg.Required {
			return nil, errors.New("a value is required")
		}
		return nil, nil
	}
	switch dt {
	case TypeString, TypeText:
		return validateText(cfg, raw)
	case TypeInteger:
		return validateInteger(cfg, raw)
	case TypeFloat:
		return validateFloat(cfg, raw)
	case TypeBoolean:
		return validateBoolean(raw)
	case TypeDate:
		return validateDate(raw)
	case TypeDateTime:
		return validateDateTime(raw)
	case TypeChoice:
		return validateChoice(cfg, raw)
	case TypeMultiChoice:
		return validateMultiChoice(cfg, raw)
	case TypeJSON:
		return validateJSON(raw)
	default:
		return nil, fmt.Errorf("unknown data type %q", dt)
	}
}

func isEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	}
	return false
}

func validateText(cfg Config, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected text, got %T", raw)
	}
	if cfg.MaxLength != nil && utf8.RuneCountInString(s) > *cfg.MaxLength {
		return nil, fmt.Errorf("must be at most %d characters", *cfg.MaxLength)
	}
	if cfg.Pattern != "" {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %v", err)
		}
		if !re.MatchString(s) {
			return nil, fmt.Errorf("must match pattern %s", cfg.Pattern)
		}
	}
	return s, nil
}

func validateInteger(cfg Config, raw any) (any, error) {
	n, err := toInt64(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Min != nil && float64(n) < *cfg.Min {
		return nil, fmt.Errorf("must be at least %s", formatNumber(*cfg.Min))
	}
	if cfg.Max != nil && float64(n) > *cfg.Max {
		return nil, fmt.Errorf("must be at most %s", formatNumber(*cfg.Max))
	}
	return n, nil
}

func validateFloat(cfg Config, raw any) (any, error) {
	f, err := toFloat64(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Min != nil && f < *cfg.Min {
		return nil, fmt.Errorf("must be at least %s", formatNumber(*cfg.Min))
	}
	if cfg.Max != nil && f > *cfg.Max {
		return nil, fmt.Errorf("must be at most %s", formatNumber(*cfg.Max))
	}
	return f, nil
}

func validateBoolean(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.TrimSpace(v) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, errors.New("must be true or false")
}

func validateDate(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a date, got %T", raw)
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil, errors.New("must be a date in YYYY-MM-DD form")
	}
	return t.Format(DateLayout), nil
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func validateDateTime(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a date and time, got %T", raw)
	}
	trimmed := strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return nil, errors.New("must be a date and time such as 2024-01-31T15:04:05Z")
}

func validateChoice(cfg Config, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a choice, got %T", raw)
	}
	if _, ok := choiceSet(cfg.Choices)[s]; !ok {
		return nil, fmt.Errorf("%q is not one of the allowed choices", s)
	}
	return s, nil
}

func validateMultiChoice(cfg Config, raw any) (any, error) {
	var items []string
	switch v := raw.(type) {
	case []string:
		items = v
	case []any:
		items = make([]string, 0, len(v))
		for _, el := range v {
			s, ok := el.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of choices, got element %T", el)
			}
			items = append(items, s)
		}
	case string:
		// a single selection typed into a multi-choice cell
		items = []string{v}
	default:
		return nil, fmt.Errorf("expected a list of choices, got %T", raw)
	}
	set := choiceSet(cfg.Choices)
	out := make([]string, 0, len(items))
	for _, s := range items {
		if _, ok := set[s]; !ok {
			return nil, fmt.Errorf("%q is not one of the allowed choices", s)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateJSON(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, errors.New("must be valid JSON")
		}
		return parsed, nil
	case map[string]any, []any, float64, bool, json.Number:
		return v, nil
	}
	return nil, fmt.Errorf("expected JSON, got %T", raw)
}

func choiceSet(choices []string) map[string]struct{} {
	set := make(map[string]struct{}, len(choices))
	for _, c := range choices {
		set[c] = struct{}{}
	}
	return set
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.New("must be a whole number")
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, errors.New("must be a whole number")
		}
		return n, nil
	case string:
		trimmed := strings.TrimSpace(v)
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			if _, ferr := strconv.ParseFloat(trimmed, 64); ferr == nil {
				return 0, errors.New("must be a whole number")
			}
			return 0, errors.New("must be a number")
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected a number, got %T", raw)
}

func toFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, errors.New("must be a number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errors.New("must be a number")
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, errors.New("must be a finite number")
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected a number, got %T", raw)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
