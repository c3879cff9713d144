package lib

// body type: configuration_error_info
type ConfigurationValidationFailureDTO struct {
	Errors []*ConfigurationFieldFailureDTO `json:"errors"`
}

type ConfigurationFieldFailureDTO struct {
	Field    string   `json:"field"`
	Location string   `json:"location"`
	Messages []string `json:"error_messages"`
}

// body type: verification_error_info
type VerificationFailureDTO struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}
