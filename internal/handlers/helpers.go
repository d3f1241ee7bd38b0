package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/colligo/internal/common"
)

// validate checks decoded request bodies. Field names in error messages come
// from the json tag so clients see the key they actually sent.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps a kinded service error onto its HTTP status and
// client-safe message. Cancelled errors get no body; the client is gone.
func WriteServiceError(w http.ResponseWriter, err error) error {
	kind := common.KindOf(err)
	if kind == common.KindCancelled {
		w.WriteHeader(common.HTTPStatus(kind))
		return nil
	}
	return WriteError(w, common.HTTPStatus(kind), common.ClientMessage(err))
}

// DecodeJSON decodes and validates a JSON request body into dst.
// Returns true on success, false otherwise (and writes error response).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			WriteError(w, http.StatusBadRequest, validationMessage(fieldErrors[0]))
			return false
		}
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	return true
}

// validationMessage renders the first failed rule as a client-facing string.
func validationMessage(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldError.Field())
	case "min":
		return fmt.Sprintf("%s must contain at least %s items", fieldError.Field(), fieldError.Param())
	case "max":
		return fmt.Sprintf("%s must contain at most %s items", fieldError.Field(), fieldError.Param())
	default:
		return fmt.Sprintf("%s is invalid", fieldError.Field())
	}
}

// ResourceID extracts the {id} segment from paths shaped /api/<resource>/{id}[/...].
func ResourceID(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// SubResource returns the path remainder after the resource id, e.g.
// "snapshot/export" for /api/projects/{id}/snapshot/export. Empty when the
// path stops at the id.
func SubResource(r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 {
		return ""
	}
	return strings.Join(parts[3:], "/")
}

// GetSkipLimit extracts skip/limit pagination from the query string.
// Skip defaults to 0, limit to defaultLimit, capped at 100.
func GetSkipLimit(r *http.Request, defaultLimit int) (skip, limit int) {
	skip = 0
	limit = defaultLimit

	if skipStr := r.URL.Query().Get("skip"); skipStr != "" {
		if s, err := strconv.Atoi(skipStr); err == nil && s >= 0 {
			skip = s
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	return skip, limit
}
