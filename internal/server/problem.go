package server

import (
	"encoding/json"
	"net/http"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound    = "https://homewatch.dev/problems/not-found"
	ProblemTypeBadRequest  = "https://homewatch.dev/problems/bad-request"
	ProblemTypeInternal    = "https://homewatch.dev/problems/internal-error"
	ProblemTypeRateLimited = "https://homewatch.dev/problems/rate-limited"
	ProblemTypeUnavailable = "https://homewatch.dev/problems/service-unavailable"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type" example:"https://homewatch.dev/problems/not-found"`
	Title    string `json:"title" example:"Not Found"`
	Status   int    `json:"status" example:"404"`
	Detail   string `json:"detail,omitempty" example:"no plugin route matches"`
	Instance string `json:"instance,omitempty" example:"/api/v1/router/nope"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func problem(typ, title string, status int, detail, instance string) Problem {
	return Problem{Type: typ, Title: title, Status: status, Detail: detail, Instance: instance}
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, problem(ProblemTypeNotFound, "Not Found", http.StatusNotFound, detail, instance))
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, problem(ProblemTypeBadRequest, "Bad Request", http.StatusBadRequest, detail, instance))
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, problem(ProblemTypeInternal, "Internal Server Error", http.StatusInternalServerError, detail, instance))
}

// RateLimited writes a 429 problem response.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, problem(ProblemTypeRateLimited, "Too Many Requests", http.StatusTooManyRequests, detail, instance))
}

// ServiceUnavailable writes a 503 problem response.
func ServiceUnavailable(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, problem(ProblemTypeUnavailable, "Service Unavailable", http.StatusServiceUnavailable, detail, instance))
}
