package core

import (
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"homegrid/internal/types"
)

// Validator wraps go-playground/validator and translates tag failures into
// the platform's AppError taxonomy so handlers return consistent 400s.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ValidateStruct validates the given struct against its validation tags.
// Returns nil on success, or a *types.AppError with per-field details on failure.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError indicates a programming error (non-struct input).
		v.logger.Error("validator received invalid input", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not be performed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = describeFailure(fe)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidField,
		"request validation failed",
		err,
		map[string]any{"fields": fields},
	)
}

// fieldPath strips the top-level struct name from the namespace, leaving a
// dotted path relative to the request body (e.g., "Location.City").
func fieldPath(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}

// describeFailure renders a short human-readable reason for a tag failure.
func describeFailure(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "exceeds maximum " + fe.Param()
	case "min":
		return "below minimum " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
