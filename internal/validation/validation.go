package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"badgehub/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(evaluationStructLevel, models.Evaluation{})
	return v
}

// evaluationStructLevel rejects union members that do not belong to the
// tagged kind.
func evaluationStructLevel(sl validator.StructLevel) {
	e := sl.Current().Interface().(models.Evaluation)
	switch e.Kind {
	case models.EvaluationStreak:
		if len(e.Filter) > 0 {
			sl.ReportError(e.Filter, "Filter", "filter", "excluded_with_kind", string(e.Kind))
		}
		if e.Field != "" {
			sl.ReportError(e.Field, "Field", "field", "excluded_with_kind", string(e.Kind))
		}
	case models.EvaluationMaxScore:
		if e.Source != "" {
			sl.ReportError(e.Source, "Source", "source", "excluded_with_kind", string(e.Kind))
		}
		if len(e.Filter) > 0 {
			sl.ReportError(e.Filter, "Filter", "filter", "excluded_with_kind", string(e.Kind))
		}
	case models.EvaluationCount:
		if e.Field != "" {
			sl.ReportError(e.Field, "Field", "field", "excluded_with_kind", string(e.Kind))
		}
	}
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	if s == nil {
		return nil
	}

	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validator: expected a struct, got %T", s)
	}

	err := validate.Struct(s)
	if err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			errMsgs := make([]string, 0, len(ve))
			for _, e := range ve {
				errMsgs = append(errMsgs, fmt.Sprintf("field '%s' failed validation: %s", e.Namespace(), e.Tag()))
			}
			return errors.New(strings.Join(errMsgs, "; "))
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateRules validates every rule and rejects duplicate badge IDs.
func ValidateRules(rules []models.Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for i := range rules {
		if err := ValidateStruct(&rules[i]); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i, rules[i].BadgeID, err)
		}
		if _, dup := seen[rules[i].BadgeID]; dup {
			return fmt.Errorf("rule %d: duplicate badge id %q", i, rules[i].BadgeID)
		}
		seen[rules[i].BadgeID] = struct{}{}
	}
	return nil
}
