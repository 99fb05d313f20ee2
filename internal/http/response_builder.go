package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Fixed response bodies.
const (
	msgInitialized      = "Database initialized with seed data."
	msgInitializeFailed = "Failed to initialize the database."
	msgInvalidMonth     = "Invalid month. Please provide a valid month between January to December."
	msgStatisticsFailed = "Error fetching statistics."
	msgBarChartFailed   = "Error fetching bar chart data."
	msgPieChartFailed   = "Error fetching pie chart data."
	msgCombinedFailed   = "Error fetching combined data."
	msgRateLimited      = "Rate limit exceeded. Please try again later."
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write encodes the body before sending any header, so an encoding error
// still yields a well-formed 500.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	payload, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
		return
	}

	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(payload)
}

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

// ErrorResponse creates a {"error": message} response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// MessageResponse creates a 200 {"message": message} response.
func MessageResponse(message string) *JSONResponseBuilder {
	return NewJSONResponse().Body(messageBody{Message: message})
}

// OK creates a 200 response encoding v.
func OK(v any) *JSONResponseBuilder {
	return NewJSONResponse().Body(v)
}
