package fhirrequest

import (
	"net/http"
	"strconv"
)

// Response is the upstream response as relayed back to the caller.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Write writes the response to the caller. Content-Length is derived from Body.
func (r Response) Write(writer http.ResponseWriter) error {
	for name, values := range r.Header {
		for _, value := range values {
			writer.Header().Add(name, value)
		}
	}
	writer.Header().Del("Content-Length")
	if len(r.Body) > 0 {
		writer.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	writer.WriteHeader(r.StatusCode)
	_, err := writer.Write(r.Body)
	return err
}
