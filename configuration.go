package lib

import (
	"embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

//go:embed configurations/*.yaml
var embeddedConfigurations embed.FS

var environmentPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

type Configuration struct {
	values map[string]any
}

type DatabaseConfiguration struct {
	Driver           string        `json:"driver" validate:"required,driver"`
	Host             string        `json:"host" validate:"required"`
	Port             int           `json:"port" validate:"min=1,max=65535"`
	Name             string        `json:"name" validate:"required"`
	Username         string        `json:"username" validate:"required"`
	Password         string        `json:"password" convergence_sensitive:"true"`
	SSLMode          string        `json:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	ConnectTimeout   time.Duration `json:"connect_timeout" validate:"min=1s"`
	StatementTimeout time.Duration `json:"statement_timeout" validate:"gte=0s"`
}

type LedgerConfiguration struct {
	Enabled bool
}

type BackupConfiguration struct {
	Enabled bool
	Path    string   `validate:"required_if=Enabled true"`
	Tables  []string `validate:"required_if=Enabled true,dive,sql_identifier"`
}

type MigrationsConfiguration struct {
	File         string        `validate:"omitempty,ends_with=.sql"`
	AdvisoryLock bool
	LockKey      string        `validate:"required,max_length=128"`
	SampleRows   int           `validate:"gte=0,lte=1000"`
	RunTimeout   time.Duration `validate:"gte=0s"`
	Ledger       LedgerConfiguration
	Verification []string `validate:"dive,read_only_query"`
	Backup       BackupConfiguration
}

type LogFileConfiguration struct {
	Enabled bool
	// Pattern names the files inside observability.path.
	Pattern string `validate:"required,must_contain={TIME},not_starts_with=/"`
}

type ObservabilityConfiguration struct {
	Path           string
	LogLevel       string `validate:"oneof=panic fatal error warn warning info debug trace"`
	LogFile        LogFileConfiguration
	PushgatewayURL string `validate:"omitempty,url"`
}

type RunnerConfiguration struct {
	Profile       string
	Database      DatabaseConfiguration
	Migrations    MigrationsConfiguration
	Observability ObservabilityConfiguration
}

// LoadConfiguration reads the embedded application.yaml, merges the profile
// file over it and then overrideFile (when not empty) over both, and finally
// substitutes ${VAR} and ${VAR:default} placeholders from the environment.
func LoadConfiguration(profile string, overrideFile string) (*Configuration, error) {
	return LoadConfigurationFrom(embeddedConfigurations, profile, overrideFile)
}

func LoadConfigurationFrom(configurations fs.FS, profile string, overrideFile string) (*Configuration, error) {
	if profile == "" {
		profile = "default"
	}

	defaultConfiguration, err := loadConfigurationFile(configurations, "default")
	if err != nil {
		return nil, err
	}

	merged := defaultConfiguration
	if profile != "default" {
		profileConfiguration, err := loadConfigurationFile(configurations, profile)
		if err != nil {
			return nil, err
		}
		merged = mergeConfigurations(merged, profileConfiguration)
	}

	if overrideFile != "" {
		content, err := os.ReadFile(overrideFile)
		if err != nil {
			return nil, ConstructManagedMigrationError(INVALID_CONFIGURATION, "Unable to read the configuration file "+overrideFile, err)
		}
		overrideConfiguration, err := parseConfiguration(content, overrideFile)
		if err != nil {
			return nil, err
		}
		merged = mergeConfigurations(merged, overrideConfiguration)
	}

	return &Configuration{values: swapEnvironmentVariables(merged)}, nil
}

// NewConfiguration wraps an already parsed configuration tree, placeholders
// are substituted the same way LoadConfiguration does.
func NewConfiguration(values map[string]any) *Configuration {
	return &Configuration{values: swapEnvironmentVariables(values)}
}

func loadConfigurationFile(configurations fs.FS, profile string) (map[string]any, error) {
	fileName := "configurations/application"
	if profile != "default" {
		fileName += "-" + profile
	}

	fileName += ".yaml"
	yamlString, err := fs.ReadFile(configurations, fileName)
	if err != nil {
		return nil, ConstructManagedMigrationError(INVALID_CONFIGURATION, "The configuration profile '"+profile+"' does not exist", err)
	}

	return parseConfiguration(yamlString, fileName)
}

func parseConfiguration(content []byte, fileName string) (map[string]any, error) {
	obj := make(map[string]any)
	if err := yaml.Unmarshal(content, obj); err != nil {
		return nil, ConstructManagedMigrationError(INVALID_CONFIGURATION, "The configuration file "+fileName+" is not valid YAML", err)
	}

	return obj, nil
}

func swapEnvironmentVariables(configurations map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range configurations {
		result[k] = swapEnvironmentVariablesInValue(v)
	}

	return result
}

func swapEnvironmentVariablesInValue(v any) any {
	if casted, ok := v.(map[string]any); ok {
		return swapEnvironmentVariables(casted)
	} else if casted, ok := v.([]any); ok {
		result := make([]any, 0, len(casted))
		for _, item := range casted {
			result = append(result, swapEnvironmentVariablesInValue(item))
		}
		return result
	} else if casted, ok := v.(string); ok {
		return environmentPlaceholder.ReplaceAllStringFunc(casted, func(placeholder string) string {
			parts := environmentPlaceholder.FindStringSubmatch(placeholder)
			if value, exists := os.LookupEnv(parts[1]); exists && value != "" {
				return value
			}
			return parts[2]
		})
	}

	return v
}

func mergeConfigurations(resultConfig map[string]any, profileConfig map[string]any) map[string]any {
	for k, v := range profileConfig {
		_, exists := resultConfig[k]
		if exists {
			existing, existingIsMap := resultConfig[k].(map[string]any)
			if casted, ok := v.(map[string]any); ok && existingIsMap {
				resultConfig[k] = mergeConfigurations(existing, casted)
			} else {
				resultConfig[k] = v
			}
		} else {
			resultConfig[k] = v
		}
	}

	return resultConfig
}

func (c *Configuration) ConfigurationExists(path string) bool {
	_, exists := c.lookup(path)
	return exists
}

func (c *Configuration) GetConfiguration(path string) any {
	value, _ := c.lookup(path)
	return value
}

func (c *Configuration) lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	var config = c.values

	for i, part := range parts {
		value, exists := config[part]
		if !exists {
			return nil, false
		}
		if i == len(parts)-1 {
			return value, true
		}

		nested, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		config = nested
	}

	return nil, false
}

// SetConfiguration overrides a single value, creating intermediate sections.
func (c *Configuration) SetConfiguration(path string, value any) {
	parts := strings.Split(path, ".")
	config := c.values

	for _, part := range parts[:len(parts)-1] {
		nested, ok := config[part].(map[string]any)
		if !ok {
			nested = make(map[string]any)
			config[part] = nested
		}
		config = nested
	}

	config[parts[len(parts)-1]] = value
}

func (c *Configuration) GetStringConfiguration(path string) (string, error) {
	value := c.GetConfiguration(path)

	switch casted := value.(type) {
	case nil:
		return "", nil
	case string:
		return casted, nil
	case int, int64, float64, bool:
		return fmt.Sprint(casted), nil
	}

	return "", invalidConfigurationType(path, "a string")
}

func (c *Configuration) GetIntegerConfiguration(path string) (int, error) {
	value := c.GetConfiguration(path)

	switch casted := value.(type) {
	case int:
		return casted, nil
	case int64:
		return int(casted), nil
	case string:
		if result, err := strconv.Atoi(strings.TrimSpace(casted)); err == nil {
			return result, nil
		}
	}

	return 0, invalidConfigurationType(path, "an integer")
}

func (c *Configuration) GetBooleanConfiguration(path string) (bool, error) {
	value := c.GetConfiguration(path)

	switch casted := value.(type) {
	case nil:
		return false, nil
	case bool:
		return casted, nil
	case string:
		if result, err := strconv.ParseBool(strings.TrimSpace(casted)); err == nil {
			return result, nil
		}
	}

	return false, invalidConfigurationType(path, "a boolean")
}

// GetDurationConfiguration accepts Go duration strings ("30s", "5m"); bare
// integers are read as seconds.
func (c *Configuration) GetDurationConfiguration(path string) (time.Duration, error) {
	value := c.GetConfiguration(path)

	switch casted := value.(type) {
	case nil:
		return 0, nil
	case int:
		return time.Duration(casted) * time.Second, nil
	case string:
		trimmed := strings.TrimSpace(casted)
		if seconds, err := strconv.Atoi(trimmed); err == nil {
			return time.Duration(seconds) * time.Second, nil
		}
		if result, err := time.ParseDuration(trimmed); err == nil {
			return result, nil
		}
	}

	return 0, invalidConfigurationType(path, "a duration")
}

// GetStringListConfiguration accepts a YAML list or a comma separated string,
// the latter is how lists arrive from environment variables.
func (c *Configuration) GetStringListConfiguration(path string) ([]string, error) {
	value := c.GetConfiguration(path)
	result := []string{}

	switch casted := value.(type) {
	case nil:
		return result, nil
	case []any:
		for _, item := range casted {
			if text, ok := item.(string); ok {
				result = append(result, text)
			} else {
				return nil, invalidConfigurationType(path, "a list of strings")
			}
		}
		return result, nil
	case string:
		for _, item := range strings.Split(casted, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result, nil
	}

	return nil, invalidConfigurationType(path, "a list of strings")
}

func invalidConfigurationType(path string, expected string) error {
	return ConstructManagedMigrationError(INVALID_CONFIGURATION, "The config path "+path+" is not "+expected, nil)
}

// RunnerConfiguration converts and validates the configuration tree.
func (c *Configuration) RunnerConfiguration(profile string) (*RunnerConfiguration, error) {
	reader := configurationReader{configuration: c}
	result := &RunnerConfiguration{Profile: profile}

	result.Database.Driver = reader.str("database.driver")
	result.Database.Host = reader.str("database.host")
	result.Database.Port = reader.integer("database.port")
	result.Database.Name = reader.str("database.name")
	result.Database.Username = reader.str("database.username")
	result.Database.Password = reader.str("database.password")
	result.Database.SSLMode = reader.str("database.sslmode")
	result.Database.ConnectTimeout = reader.duration("database.connect_timeout")
	result.Database.StatementTimeout = reader.duration("database.statement_timeout")

	result.Migrations.File = reader.str("migrations.file")
	result.Migrations.AdvisoryLock = reader.boolean("migrations.advisory_lock")
	result.Migrations.LockKey = reader.str("migrations.lock_key")
	result.Migrations.SampleRows = reader.integer("migrations.sample_rows")
	result.Migrations.RunTimeout = reader.duration("migrations.run_timeout")
	result.Migrations.Ledger.Enabled = reader.boolean("migrations.ledger.enabled")
	result.Migrations.Verification = reader.list("migrations.verification")
	result.Migrations.Backup.Enabled = reader.boolean("migrations.backup.enabled")
	result.Migrations.Backup.Path = reader.str("migrations.backup.path")
	result.Migrations.Backup.Tables = reader.list("migrations.backup.tables")

	result.Observability.Path = reader.str("observability.path")
	result.Observability.LogLevel = strings.ToLower(reader.str("observability.log_level"))
	result.Observability.LogFile.Enabled = reader.boolean("observability.log_file.enabled")
	result.Observability.LogFile.Pattern = reader.str("observability.log_file.pattern")
	result.Observability.PushgatewayURL = reader.str("observability.pushgateway_url")

	if reader.err != nil {
		return nil, reader.err
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *RunnerConfiguration) Validate() error {
	if err := NewConfigurationValidator().Struct(r); err != nil {
		return CreateInvalidConfigurationError(err)
	}

	return nil
}

// configurationReader keeps the first conversion error so RunnerConfiguration
// can read every field without checking each one.
type configurationReader struct {
	configuration *Configuration
	err           error
}

func (r *configurationReader) keep(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *configurationReader) str(path string) string {
	value, err := r.configuration.GetStringConfiguration(path)
	r.keep(err)
	return value
}

func (r *configurationReader) integer(path string) int {
	value, err := r.configuration.GetIntegerConfiguration(path)
	r.keep(err)
	return value
}

func (r *configurationReader) boolean(path string) bool {
	value, err := r.configuration.GetBooleanConfiguration(path)
	r.keep(err)
	return value
}

func (r *configurationReader) duration(path string) time.Duration {
	value, err := r.configuration.GetDurationConfiguration(path)
	r.keep(err)
	return value
}

func (r *configurationReader) list(path string) []string {
	value, err := r.configuration.GetStringListConfiguration(path)
	r.keep(err)
	return value
}
