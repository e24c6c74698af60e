package handoff

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/HendryAvila/kenning/internal/errs"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// fieldOrder is the document order of a record's top-level fields. The
// reported error is the first one in this order.
var fieldOrder = []string{
	"task_id", "outcome", "summary", "tags",
	"files_created", "files_modified", "patterns_discovered", "gotchas",
	"dependencies_for_next", "open_questions", "suggested_next_steps", "blockers",
}

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report yaml field names so errors match the document the operator
		// wrote.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		validate.RegisterStructValidation(recordLevel, Record{})
	})
	return validate
}

// recordLevel enforces the conditional requirement: blockers must be listed
// unless the task completed.
func recordLevel(sl validator.StructLevel) {
	r := sl.Current().Interface().(Record)
	if r.Outcome.NeedsBlockers() && len(r.Blockers) == 0 {
		sl.ReportError(r.Blockers, "blockers", "Blockers", "required_for_outcome", string(r.Outcome))
	}
}

// Validate checks r and returns the first invalid field as an
// *errs.ValidationError, or nil.
func Validate(r *Record) error {
	if r == nil {
		return errs.Invalid("", "outcome", "required")
	}
	err := validatorInstance().Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("handoff: validate: %w", err)
	}

	first := slices.MinFunc(verrs, func(a, b validator.FieldError) int {
		return rank(fieldPath(a)) - rank(fieldPath(b))
	})
	return errs.Invalid("", fieldPath(first), reason(first))
}

// fieldPath turns "Record.gotchas[0].severity" into "gotchas[0].severity".
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func rank(path string) int {
	top := path
	if i := strings.IndexAny(top, ".["); i >= 0 {
		top = top[:i]
	}
	if i := slices.Index(fieldOrder, top); i >= 0 {
		return i
	}
	return len(fieldOrder)
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return fmt.Sprintf("must be one of %s, got %q", strings.ReplaceAll(fe.Param(), " ", ", "), fmt.Sprint(fe.Value()))
	case "required_for_outcome":
		return "required when outcome is " + fe.Param()
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}
