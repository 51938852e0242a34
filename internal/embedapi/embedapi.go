// Package embedapi defines the JSON contract of the embed operation and the
// validation shared by every transport serving it.
package embedapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/go-playground/validator/v10"

	"embed-service/internal/embeddings"
)

// StatusOK is the fixed health status value.
const StatusOK = "ok"

// Validator is shared across requests; validator.Validate caches struct metadata.
var Validator = validator.New(validator.WithRequiredStructEnabled())

// EmbedRequest is the body of an embed call.
type EmbedRequest struct {
	Texts []string `json:"texts"`
}

// wireRequest keeps null elements distinguishable from empty strings.
type wireRequest struct {
	Texts []*string `json:"texts" validate:"required"`
}

// EmbedResponse carries one vector per requested text, in request order.
type EmbedResponse struct {
	Model   string              `json:"model"`
	Dim     int                 `json:"dim"`
	Vectors []embeddings.Vector `json:"vectors"`
}

// HealthResponse is returned by the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// ErrorResponse is the body of every failed call.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// RequestError reports a malformed request. It is always the caller's fault.
type RequestError struct {
	Message string
	Fields  map[string]string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RequestError) Unwrap() error { return e.Err }

// Response renders e as an ErrorResponse.
func (e *RequestError) Response() ErrorResponse {
	return ErrorResponse{Error: e.Message, Fields: e.Fields}
}

// Health builds the health payload for model.
func Health(model string) HealthResponse {
	return HealthResponse{Status: StatusOK, Model: model}
}

// DecodeRequest reads and validates an EmbedRequest. maxTexts <= 0 disables
// the batch size limit. Failures are *RequestError unless reading r itself
// fails, in which case the read error is wrapped inside a RequestError too.
func DecodeRequest(r io.Reader, maxTexts int) (EmbedRequest, error) {
	var wire wireRequest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&wire); err != nil {
		return EmbedRequest{}, decodeError(err)
	}
	// The body must hold exactly one JSON value.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return EmbedRequest{}, &RequestError{Message: "request body is not valid JSON", Err: err}
	}

	if err := Validator.Struct(&wire); err != nil {
		return EmbedRequest{}, validationError(err)
	}
	if maxTexts > 0 {
		if err := Validator.Var(wire.Texts, fmt.Sprintf("max=%d", maxTexts)); err != nil {
			return EmbedRequest{}, fieldError("texts", fmt.Sprintf("must contain at most %d items", maxTexts), err)
		}
	}

	req := EmbedRequest{Texts: make([]string, len(wire.Texts))}
	for i, t := range wire.Texts {
		if t == nil {
			return EmbedRequest{}, fieldError("texts", "must contain only strings", nil)
		}
		req.Texts[i] = *t
	}
	return req, nil
}

func decodeError(err error) *RequestError {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, io.EOF):
		return &RequestError{Message: "request body is empty", Err: err}
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return &RequestError{Message: "request body must be a JSON object", Err: err}
		}
		msg := "must be an array of strings"
		if typeErr.Type != nil && typeErr.Type.Kind() == reflect.String {
			msg = "must contain only strings"
		}
		return fieldError("texts", msg, err)
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return &RequestError{Message: "request body is not valid JSON", Err: err}
	default:
		return &RequestError{Message: "invalid payload", Err: err}
	}
}

func fieldError(field, msg string, err error) *RequestError {
	return &RequestError{
		Message: field + " " + msg,
		Fields:  map[string]string{field: msg},
		Err:     err,
	}
}

func validationError(err error) *RequestError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &RequestError{Message: "validation failed", Err: err}
	}
	re := fieldError(jsonName(verrs[0]), describe(verrs[0]), err)
	for _, fe := range verrs[1:] {
		re.Fields[jsonName(fe)] = describe(fe)
	}
	return re
}

func jsonName(fe validator.FieldError) string {
	if f, ok := reflect.TypeOf(wireRequest{}).FieldByName(fe.StructField()); ok {
		if tag := f.Tag.Get("json"); tag != "" {
			return tag
		}
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must contain at most " + fe.Param() + " items"
	default:
		return "failed " + fe.Tag() + " constraint"
	}
}

// Embed encodes texts with normalization and wraps the result. dim is 0 for
// an empty request.
func Embed(ctx context.Context, p embeddings.Provider, texts []string) (EmbedResponse, error) {
	vectors, err := p.Encode(ctx, texts, true)
	if err != nil {
		return EmbedResponse{}, err
	}
	if len(vectors) != len(texts) {
		return EmbedResponse{}, fmt.Errorf("%w: got %d vectors for %d texts", embeddings.ErrEmbeddingFailed, len(vectors), len(texts))
	}
	if vectors == nil {
		vectors = []embeddings.Vector{}
	}

	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim {
			return EmbedResponse{}, fmt.Errorf("%w: vector %d has dimension %d, want %d", embeddings.ErrEmbeddingFailed, i, len(v), dim)
		}
	}
	return EmbedResponse{Model: p.Model(), Dim: dim, Vectors: vectors}, nil
}
