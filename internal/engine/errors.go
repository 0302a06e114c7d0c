package engine

import "fmt"

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func UnknownTableError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_TABLE",
		Status:  404,
		Message: fmt.Sprintf("Unknown table: %s", name),
	}
}

func DataUnavailableError(table string, cause error) *AppError {
	return &AppError{
		Code:    "DATA_UNAVAILABLE",
		Status:  503,
		Message: fmt.Sprintf("Data source unavailable for %s: %v", table, cause),
	}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Status:  401,
		Message: msg,
	}
}

func ConfigInvalidError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "CONFIG_VALIDATION_FAILED",
		Status:  422,
		Message: "Configuration validation failed",
		Details: details,
	}
}
