package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

// ValidationError points at the offending value by its dotted path.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidateObject checks a decoded object against s and joins every problem
// found.
func ValidateObject(s *jsonschema.Schema, value map[string]any) error {
	return ValidateValue(s, value)
}

func ValidateValue(s *jsonschema.Schema, value any) error {
	var problems []error
	validate(s, value, "", &problems)
	return errors.Join(problems...)
}

func validate(s *jsonschema.Schema, value any, path string, problems *[]error) {
	if s == nil {
		return
	}
	if s.Not != nil && isFalseSchema(s) {
		*problems = append(*problems, &ValidationError{Path: path, Message: "value is not allowed"})
		return
	}
	actual := actualType(value)

	if s.Type != "" && !typeMatches(s.Type, actual) {
		*problems = append(*problems, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("expected %s, got %s", s.Type, formatActualDetail(actual, value)),
		})
		return
	}
	if s.Const != nil && !equalValues(s.Const, value) {
		*problems = append(*problems, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("must be %s, got %s", formatValidationValue(s.Const), formatValidationValue(value)),
		})
	}
	if len(s.Enum) > 0 && !containsValue(s.Enum, value) {
		allowed := make([]string, 0, len(s.Enum))
		for _, option := range s.Enum {
			allowed = append(allowed, formatValidationValue(option))
		}
		*problems = append(*problems, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("must be one of %s, got %s", strings.Join(allowed, ", "), formatValidationValue(value)),
		})
	}
	if len(s.AnyOf) > 0 && countMatches(s.AnyOf, value, path) == 0 {
		*problems = append(*problems, &ValidationError{Path: path, Message: "does not match any allowed shape"})
	}
	if len(s.OneOf) > 0 {
		validateOneOf(s.OneOf, value, path, problems)
	}
	if number, ok := asNumber(value); ok {
		if s.Minimum != "" {
			if floor, err := s.Minimum.Float64(); err == nil && number < floor {
				*problems = append(*problems, &ValidationError{Path: path, Message: fmt.Sprintf("must be >= %s", s.Minimum)})
			}
		}
		if s.ExclusiveMinimum != "" {
			if floor, err := s.ExclusiveMinimum.Float64(); err == nil && number <= floor {
				*problems = append(*problems, &ValidationError{Path: path, Message: fmt.Sprintf("must be > %s", s.ExclusiveMinimum)})
			}
		}
	}
	if text, ok := value.(string); ok && s.MinLength != nil && uint64(len(text)) < *s.MinLength {
		*problems = append(*problems, &ValidationError{Path: path, Message: fmt.Sprintf("must be at least %d characters", *s.MinLength)})
	}

	switch actual {
	case "object":
		object, _ := asStringMap(value)
		validateObject(s, object, path, problems)
	case "array":
		if s.Items != nil {
			for i, item := range asSlice(value) {
				validate(s.Items, item, fmt.Sprintf("%s[%d]", path, i), problems)
			}
		}
	}
}

func validateObject(s *jsonschema.Schema, object map[string]any, path string, problems *[]error) {
	for _, name := range s.Required {
		if _, ok := object[name]; !ok {
			*problems = append(*problems, &ValidationError{Path: joinPath(path, name), Message: "missing required field"})
		}
	}
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		var property *jsonschema.Schema
		if s.Properties != nil {
			property, _ = s.Properties.Get(key)
		}
		switch {
		case property != nil:
			validate(property, object[key], joinPath(path, key), problems)
		case s.AdditionalProperties != nil && isFalseSchema(s.AdditionalProperties):
			*problems = append(*problems, &ValidationError{Path: joinPath(path, key), Message: "unknown field"})
		case s.AdditionalProperties != nil:
			validate(s.AdditionalProperties, object[key], joinPath(path, key), problems)
		}
	}
}

// validateOneOf reports the closest branch's problems when nothing matches,
// so a definition with a known "type" gets field-level errors.
func validateOneOf(options []*jsonschema.Schema, value any, path string, problems *[]error) {
	var best []error
	matches := 0
	for _, option := range options {
		var branch []error
		validate(option, value, path, &branch)
		if len(branch) == 0 {
			matches++
			continue
		}
		if discriminatorMatches(option, value) {
			best = branch
		}
	}
	switch {
	case matches == 1:
	case matches > 1:
		*problems = append(*problems, &ValidationError{Path: path, Message: "matches more than one allowed shape"})
	case best != nil:
		*problems = append(*problems, best...)
	default:
		*problems = append(*problems, &ValidationError{Path: path, Message: "does not match any allowed shape"})
	}
}

func discriminatorMatches(s *jsonschema.Schema, value any) bool {
	object, ok := asStringMap(value)
	if !ok || s.Properties == nil {
		return false
	}
	property, ok := s.Properties.Get("type")
	if !ok || property == nil || property.Const == nil {
		return false
	}
	return equalValues(property.Const, object["type"])
}

func countMatches(options []*jsonschema.Schema, value any, path string) int {
	matches := 0
	for _, option := range options {
		var branch []error
		validate(option, value, path, &branch)
		if len(branch) == 0 {
			matches++
		}
	}
	return matches
}

func isFalseSchema(s *jsonschema.Schema) bool {
	return s.Not != nil && reflect.DeepEqual(*s, jsonschema.Schema{Not: s.Not}) && reflect.DeepEqual(*s.Not, jsonschema.Schema{})
}

func typeMatches(expected, actual string) bool {
	if expected == actual {
		return true
	}
	return expected == "number" && actual == "integer"
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func actualType(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32:
		return numberType(float64(typed))
	case float64:
		return numberType(typed)
	}
	if _, ok := asStringMap(value); ok {
		return "object"
	}
	if kind := reflect.ValueOf(value).Kind(); kind == reflect.Slice || kind == reflect.Array {
		return "array"
	}
	return fmt.Sprintf("%T", value)
}

func numberType(value float64) string {
	if value == math.Trunc(value) && !math.IsInf(value, 0) {
		return "integer"
	}
	return "number"
}

func asNumber(value any) (float64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// asStringMap accepts map[string]any and the map[any]any shapes some
// decoders produce.
func asStringMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		converted := make(map[string]any, len(typed))
		for key, item := range typed {
			converted[fmt.Sprint(key)] = item
		}
		return converted, true
	}
	return nil, false
}

func asSlice(value any) []any {
	if items, ok := value.([]any); ok {
		return items
	}
	rv := reflect.ValueOf(value)
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items
}

func equalValues(expected, actual any) bool {
	left, leftNumber := asNumber(expected)
	right, rightNumber := asNumber(actual)
	if leftNumber && rightNumber {
		return left == right
	}
	return reflect.DeepEqual(expected, actual)
}

func containsValue(options []any, value any) bool {
	for _, option := range options {
		if equalValues(option, value) {
			return true
		}
	}
	return false
}

func formatActualDetail(actual string, value any) string {
	if actual == "object" || actual == "array" || actual == "null" {
		return actual
	}
	return fmt.Sprintf("%s %s", actual, formatValidationValue(value))
}

func formatValidationValue(value any) string {
	if text, ok := value.(string); ok {
		return fmt.Sprintf("%q", text)
	}
	return fmt.Sprint(value)
}
