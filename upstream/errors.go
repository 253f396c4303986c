package upstream

// RequestConstructionError is returned when the inbound request can't be turned into a valid upstream request.
// It is the caller's fault and must not be retried.
type RequestConstructionError struct {
	Reason string
	Err    error
}

func (e *RequestConstructionError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *RequestConstructionError) Unwrap() error {
	return e.Err
}

// UpstreamError is returned when the upstream FHIR store couldn't be reached.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "upstream FHIR store request failed: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
