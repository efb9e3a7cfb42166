package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"switchboard.dev/internal/apperr"
)

// Mapper converts between the request representation D of a resource and its internal entity E.
type Mapper[D, E any] interface {
	FromInternal(E) D
	ToInternal(D) (E, error)
	ID(E) int64
	SetID(*E, int64)
}

// ToEntity reconciles ops against old and returns the new internal entity.
//
// The sequence is checked against the declared fields of D, then every
// top-level value it writes is applied to an empty D and field-validated.
// Only then is it applied to a copy of old. The identifier of old is
// re-asserted on the result whatever the patch did to it.
//
// Structural problems yield a bad request; values the request type rejects
// yield an unprocessable entity.
func ToEntity[D, E any](old E, ops []Op, m Mapper[D, E], v *validator.Validate) (E, error) {
	var zero E
	schema := SchemaFor[D]()
	if err := schema.Check(ops); err != nil {
		return zero, err
	}
	fields := touched(ops)

	if err := checkEmptyBase[D](ops, schema, v, fields); err != nil {
		return zero, err
	}

	doc, err := toDocument(m.FromInternal(old))
	if err != nil {
		return zero, apperr.Internal(apperr.CodeInternal, fmt.Errorf("encode entity: %w", err))
	}
	patched, err := Apply(doc, ops)
	if err != nil {
		return zero, err
	}
	var dto D
	if err := fromDocument(patched, &dto); err != nil {
		return zero, apperr.Unprocessable(apperr.CodeInvalidField, err.Error())
	}
	if err := validateFields(v, dto, schema, fields); err != nil {
		return zero, err
	}
	entity, err := m.ToInternal(dto)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return zero, ae
		}
		return zero, apperr.Unprocessable(apperr.CodeInvalidField, err.Error())
	}
	m.SetID(&entity, m.ID(old))
	return entity, nil
}

// ValidateRequest field-validates every member of a complete request value,
// as sent on create or full replacement.
func ValidateRequest[D any](v *validator.Validate, dto D) error {
	schema := SchemaFor[D]()
	return validateFields(v, dto, schema, schema.Names())
}

// checkEmptyBase applies the top-level writes of ops to an empty D. Nested
// paths and tests are skipped since an empty base cannot hold them.
func checkEmptyBase[D any](ops []Op, schema *Schema, v *validator.Validate, fields []string) error {
	var empty D
	doc, err := toDocument(empty)
	if err != nil {
		return apperr.Internal(apperr.CodeInternal, fmt.Errorf("encode empty request: %w", err))
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	for _, op := range ops {
		if op.Kind != Add && op.Kind != Replace {
			continue
		}
		tokens, _ := parsePointer(op.Path)
		if len(tokens) != 1 {
			continue
		}
		val, err := normalize(op.Value)
		if err != nil {
			return badField(tokens[0], err)
		}
		obj[tokens[0]] = val
	}
	var dto D
	if err := fromDocument(obj, &dto); err != nil {
		return apperr.Unprocessable(apperr.CodeInvalidField, err.Error())
	}
	return validateFields(v, dto, schema, fields)
}

// validateFields runs struct validation and reports failures on the given json members only.
func validateFields(v *validator.Validate, dto any, schema *Schema, fields []string) error {
	if v == nil || len(fields) == 0 {
		return nil
	}
	err := v.Struct(dto)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return apperr.Unprocessable(apperr.CodeInvalidField, err.Error())
	}
	want := make(map[string]string, len(fields))
	for _, f := range fields {
		want[schema.GoName(f)] = f
	}
	var details []string
	for _, fe := range verrs {
		top, _, _ := strings.Cut(strings.TrimPrefix(fe.StructNamespace(), structPrefix(fe)), ".")
		if top == "" {
			top = fe.StructField()
		}
		if name, ok := want[top]; ok {
			details = append(details, fmt.Sprintf("%s: failed %s", name, fe.Tag()))
		}
	}
	if len(details) == 0 {
		return nil
	}
	return apperr.Unprocessable(apperr.CodeInvalidField, details...)
}

// structPrefix returns the leading "Type." of a validation error namespace.
func structPrefix(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[:i+1]
	}
	return ""
}
