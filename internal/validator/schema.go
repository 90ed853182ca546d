package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"grantflow/internal/models"

	"github.com/go-playground/validator/v10"
)

// structValidate checks AwardRecord and Participant struct tags. Field
// names in its errors are the JSON names.
var structValidate *validator.Validate

func init() {
	structValidate = validator.New(validator.WithRequiredStructEnabled())

	structValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	// amounts are compared as numbers by gte
	structValidate.RegisterCustomTypeFunc(func(v reflect.Value) any {
		a, _ := v.Interface().(models.Amount)
		f, _ := a.Float64()

		return f
	}, models.Amount{})

	_ = structValidate.RegisterValidation("grant_category", func(fl validator.FieldLevel) bool {
		return models.GrantCategory(fl.Field().Int()).Valid()
	})

	_ = structValidate.RegisterValidation("ror", func(fl validator.FieldLevel) bool {
		return models.ValidRorID(fl.Field().String())
	})
}

// ValidateSchema checks that every record can still be constructed as an
// AwardRecord: strict decoding (no unknown keys, correct types) followed by
// the struct tag rules.
func ValidateSchema(records []models.RecordMap) error {
	var vs []Violation

	for i, rec := range records {
		for _, msg := range checkRecord(rec) {
			vs = append(vs, Violation{
				Index: i, Rule: RuleSchema, Kind: models.ErrSchemaViolation, Field: msg.field,
				Message: msg.text,
			})
		}
	}

	return aggregate(vs)
}

// ValidateRecord runs the struct tag rules on a typed record.
func ValidateRecord(rec *models.AwardRecord) error {
	if err := structValidate.Struct(rec); err != nil {
		return fmt.Errorf("%w: %w", models.ErrSchemaViolation, err)
	}

	return nil
}

type schemaMessage struct {
	field string
	text  string
}

func checkRecord(rec models.RecordMap) []schemaMessage {
	var typed models.AwardRecord
	if err := strictDecode(rec, &typed); err != nil {
		return []schemaMessage{{text: "record does not match schema: " + err.Error()}}
	}

	return structMessages(structValidate.Struct(&typed), "AwardRecord.")
}

// checkParticipant returns the schema problems of one participant map.
func checkParticipant(p map[string]any) []string {
	var typed models.Participant
	if err := strictDecode(p, &typed); err != nil {
		return []string{err.Error()}
	}

	msgs := structMessages(structValidate.Struct(&typed), "Participant.")

	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.text
	}

	return out
}

func strictDecode(src map[string]any, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	return dec.Decode(dst)
}

func structMessages(err error, root string) []schemaMessage {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []schemaMessage{{text: err.Error()}}
	}

	out := make([]schemaMessage, 0, len(fieldErrs))

	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), root)

		text := fmt.Sprintf("%s failed %q", field, fe.Tag())
		if fe.Param() != "" {
			text = fmt.Sprintf("%s failed %q (%s)", field, fe.Tag(), fe.Param())
		}

		out = append(out, schemaMessage{field: field, text: text})
	}

	return out
}
