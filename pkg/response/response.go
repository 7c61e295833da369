package response

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Response is the envelope every API endpoint writes.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func write(w http.ResponseWriter, statusCode int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Response{Success: statusCode < 400, Data: data})
}

// Raw writes v without the envelope, for static data files.
func Raw(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Message writes a successful envelope carrying only a human-readable message.
func Message(w http.ResponseWriter, msg string) {
	write(w, http.StatusOK, Response{Success: true, Message: msg})
}

func Error(w http.ResponseWriter, statusCode int, err string) {
	write(w, statusCode, Response{Error: err})
}

// CodedError attaches a stable machine-readable code clients can switch on.
func CodedError(w http.ResponseWriter, statusCode int, code, err string) {
	write(w, statusCode, Response{Error: err, Code: code})
}

func BadRequest(w http.ResponseWriter, err string) {
	Error(w, http.StatusBadRequest, err)
}

func Unauthorized(w http.ResponseWriter, err string) {
	Error(w, http.StatusUnauthorized, err)
}

func Forbidden(w http.ResponseWriter, err string) {
	Error(w, http.StatusForbidden, err)
}

func NotFound(w http.ResponseWriter, err string) {
	Error(w, http.StatusNotFound, err)
}

func TooManyRequests(w http.ResponseWriter, retryAfter time.Duration, code string) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	CodedError(w, http.StatusTooManyRequests, code, "too many requests, try again later")
}

func InternalError(w http.ResponseWriter, err string) {
	Error(w, http.StatusInternalServerError, err)
}
