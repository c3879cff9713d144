package lib

import (
	"github.com/convergence-platform/convergence-migration-runner-for-go/sqlscript"
	"github.com/go-playground/validator/v10"
	"regexp"
	"strconv"
	"strings"
)

var qualifiedIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)

var supportedDatabaseDrivers = map[string]bool{
	"postgres": true,
	"pgx":      true,
}

func ValidateStringContain(fl validator.FieldLevel) bool {
	param := fl.Param()
	value := fl.Field().String()

	return strings.Contains(value, param)
}

func ValidateStringEndsWith(fl validator.FieldLevel) bool {
	param := fl.Param()
	value := fl.Field().String()

	return strings.HasSuffix(value, param)
}

func ValidateStringNotStartsWith(fl validator.FieldLevel) bool {
	param := fl.Param()
	value := fl.Field().String()

	return !strings.HasPrefix(value, param)
}

func ValidateMaximumLength(fl validator.FieldLevel) bool {
	length, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}

	actualLength := getStringOrSliceLength(fl)

	return actualLength <= length
}

func ValidateReadOnlyQuery(fl validator.FieldLevel) bool {
	return sqlscript.IsReadOnlyQuery(fl.Field().String())
}

func ValidateSqlIdentifier(fl validator.FieldLevel) bool {
	return qualifiedIdentifierPattern.MatchString(fl.Field().String())
}

func ValidateDatabaseDriver(fl validator.FieldLevel) bool {
	return supportedDatabaseDrivers[fl.Field().String()]
}

func ValidateObservabilityConfiguration(sl validator.StructLevel) {
	observability := sl.Current().Interface().(ObservabilityConfiguration)

	if observability.LogFile.Enabled && observability.Path == "" {
		sl.ReportError(observability.Path, "Path", "Path", "required_with_log_file", "")
	}
}

func getStringOrSliceLength(fl validator.FieldLevel) int {
	value := fl.Field().Interface()
	actualLength := -1
	if strValue, ok := value.(string); ok {
		actualLength = len(strValue)
	} else if strPointerValue, ok := value.(*string); ok {
		actualLength = len(*strPointerValue)
	} else {
		// This is a slice
		actualLength = fl.Field().Len()
	}
	return actualLength
}

func NewConfigurationValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	_ = validate.RegisterValidation("must_contain", ValidateStringContain)
	_ = validate.RegisterValidation("ends_with", ValidateStringEndsWith)
	_ = validate.RegisterValidation("not_starts_with", ValidateStringNotStartsWith)
	_ = validate.RegisterValidation("max_length", ValidateMaximumLength)
	_ = validate.RegisterValidation("read_only_query", ValidateReadOnlyQuery)
	_ = validate.RegisterValidation("sql_identifier", ValidateSqlIdentifier)
	_ = validate.RegisterValidation("driver", ValidateDatabaseDriver)
	validate.RegisterStructValidation(ValidateObservabilityConfiguration, ObservabilityConfiguration{})

	return validate
}
