package lib

import (
	"errors"
	"github.com/go-playground/validator/v10"
	"strings"
)

func CreateInvalidConfigurationError(errs error) *ManagedMigrationError {
	result := ConstructManagedMigrationError(INVALID_CONFIGURATION, "The configuration is invalid, refer to the field failures for details.", errs)

	body := &ConfigurationValidationFailureDTO{
		Errors: make([]*ConfigurationFieldFailureDTO, 0),
	}
	result.SetBody(body, "configuration_error_info")

	var validationErrors validator.ValidationErrors
	if !errors.As(errs, &validationErrors) {
		return result
	}

	fieldToErrorInfo := make(map[string]*ConfigurationFieldFailureDTO)
	for _, err := range validationErrors {
		var fieldInfo *ConfigurationFieldFailureDTO
		ok := false

		if fieldInfo, ok = fieldToErrorInfo[err.StructNamespace()]; !ok {
			fieldName := err.StructNamespace()
			fieldName = fieldName[strings.Index(fieldName, ".")+1:]
			fieldInfo = &ConfigurationFieldFailureDTO{
				Field:    ConvertPascalToSnake(fieldName),
				Location: "configuration",
				Messages: make([]string, 0),
			}
			fieldToErrorInfo[err.StructNamespace()] = fieldInfo
			body.Errors = append(body.Errors, fieldInfo)
		}

		errorMessage := "Failing to pass validation: '" + err.Tag() + "'"
		if err.Param() != "" {
			errorMessage += " (" + err.Param() + ")"
		}
		fieldInfo.Messages = append(fieldInfo.Messages, errorMessage)
	}

	return result
}

// ConfigurationFailures returns the field failures carried by a ConfigurationError.
func ConfigurationFailures(err error) []*ConfigurationFieldFailureDTO {
	var managed *ManagedMigrationError
	if !errors.As(err, &managed) || !managed.HasCustomBody() {
		return nil
	}

	body, _ := managed.CustomBody()
	if casted, ok := body.(*ConfigurationValidationFailureDTO); ok {
		return casted.Errors
	}

	return nil
}

func ConvertPascalToSnake(pascal string) string {
	lastLowerCase := false
	result := ""

	for i := 0; i < len(pascal); i++ {
		ch := pascal[i : i+1]
		if isUpperCaseChar(ch) {
			if lastLowerCase {
				result += "_"
			}
			result += strings.ToLower(ch)
			lastLowerCase = false
		} else if ch == "." || ch == "[" || ch == "]" {
			result += ch
			lastLowerCase = false
		} else {
			result += ch
			lastLowerCase = true
		}
	}

	return result
}

func isUpperCaseChar(input string) bool {
	chars := "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	return strings.Contains(chars, input)
}
