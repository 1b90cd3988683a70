package api

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationConfig holds configurable limits for todo validation.
type ValidationConfig struct {
	MaxTitleLength       int
	MaxDescriptionLength int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxTitleLength:       255,
		MaxDescriptionLength: 10000,
	}
}

// ValidateTodoRequest checks a create or update body. It returns an
// *APIError describing the first validation failure, or nil if the request
// is valid.
func ValidateTodoRequest(req *TodoRequest, cfg ValidationConfig) *APIError {
	if req.Data == nil {
		return NewInvalidRequestError("data", "data is required")
	}
	return ValidateTodoInput(req.Data, cfg)
}

// ValidateTodoInput checks the writable todo fields.
func ValidateTodoInput(in *TodoInput, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(in.Title) == "" {
		return NewInvalidRequestError("title", "title is required")
	}

	if cfg.MaxTitleLength > 0 && utf8.RuneCountInString(in.Title) > cfg.MaxTitleLength {
		return NewInvalidRequestError("title",
			fmt.Sprintf("title exceeds maximum of %d characters", cfg.MaxTitleLength))
	}

	if cfg.MaxDescriptionLength > 0 && utf8.RuneCountInString(in.Description) > cfg.MaxDescriptionLength {
		return NewInvalidRequestError("description",
			fmt.Sprintf("description exceeds maximum of %d characters", cfg.MaxDescriptionLength))
	}

	return nil
}

// ValidateSignInRequest checks that all sign-in fields are present.
func ValidateSignInRequest(req *SignInRequest) *APIError {
	switch {
	case req.Username == "":
		return NewInvalidRequestError("username", "username is required")
	case req.Password == "":
		return NewInvalidRequestError("password", "password is required")
	case req.Nonce == "":
		return NewInvalidRequestError("nonce", "nonce is required")
	}
	return nil
}
