package main

// Response is what the function returns to the invoker. Body holds serialized JSON.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type successBody struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type failureBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type ObjectRef struct {
	Bucket string
	Key    string
}

// ProcessingError is raised for anything that goes wrong while handling an event.
type ProcessingError struct {
	Reason string
}

func (e *ProcessingError) Error() string {
	return e.Reason
}
