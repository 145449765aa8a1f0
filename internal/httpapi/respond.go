// Package httpapi holds the JSON request and response helpers shared by the HTTP handlers.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// WriteError classifies err and writes it. Internal errors are logged and their detail hidden.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	message := err.Error()
	if code == domain.CodeInternal {
		logger.FromContext(r.Context()).WithError(err).Error("Request failed")
		message = "internal error"
	}
	WriteJSON(w, StatusFor(code), ErrorBody{Code: code, Message: message})
}

// DecodeJSON reads the request body into dst and validates its struct tags.
func DecodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Validationf("request body is required")
		}
		return domain.Validationf("invalid payload: %v", err)
	}
	return Validate(dst)
}

// Validate checks struct tags and reports failures as a validation error.
func Validate(value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Validationf("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return domain.Validationf("%s", strings.Join(msgs, "; "))
}

// PathUUID parses a uuid path segment.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.PathValue(name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.Validationf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// QueryInt reads a non-negative integer query parameter, falling back to def.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, domain.Validationf("%s must be a non-negative integer", name)
	}
	return v, nil
}
