package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/voyagen/guidevault/internal/jobs"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/service"
	"github.com/voyagen/guidevault/internal/store"
)

// maxBodyBytes bounds request bodies; mapping imports are the largest.
const maxBodyBytes = 32 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// APIError is the standard error envelope for all error responses.
type APIError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	// ActiveJobID names the job holding the target on a 409.
	ActiveJobID int64 `json:"active_job_id,omitempty"`
}

// parseID extracts a path parameter by name and parses it as a positive int64.
func parseID(r *http.Request, param string) (int64, error) {
	v := r.PathValue(param)
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", param, v)
	}
	return id, nil
}

// queryID parses an optional positive integer query parameter; absent is 0.
func queryID(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", name, v)
	}
	return id, nil
}

// decodeJSON decodes and validates the request body into dst. An empty body
// is accepted only when optional is set, leaving dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return validateValue(dst)
}

func validateValue(v any) error {
	rv := reflect.Indirect(reflect.ValueOf(v))
	var err error
	if rv.Kind() == reflect.Slice {
		err = validate.Var(rv.Interface(), "dive")
	} else {
		err = validate.Struct(v)
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fieldMessage(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}

func fieldMessage(fe validator.FieldError) string {
	// Namespace is "request.field" for structs and "[i].field" for lists.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 && !strings.HasPrefix(field, "[") {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_without":
		return field + " is required when " + fe.Param() + " is empty"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "min":
		return field + " must have at least " + fe.Param() + " element(s)"
	case "http_url":
		return field + " must be a valid http or https URL"
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("writeJSON")
	}
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeErr(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= 500 {
		logging.Ctx(r.Context()).Error().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, APIError{
		Status: status,
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}

// fail maps a service, job or store error onto a response.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *jobs.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, APIError{
			Status:      http.StatusConflict,
			Error:       http.StatusText(http.StatusConflict),
			Detail:      conflict.Error(),
			ActiveJobID: conflict.ActiveJobID,
		})
	case errors.Is(err, service.ErrInvalid):
		writeErr(w, r, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeErr(w, r, http.StatusNotFound, err)
	default:
		writeErr(w, r, http.StatusInternalServerError, err)
	}
}
