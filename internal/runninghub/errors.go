package runninghub

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed call. Callers decide retry policy from it.
type ErrorCode string

const (
	// CodeTransport means the request never produced an HTTP response
	CodeTransport ErrorCode = "transport"
	// CodeServer means an HTTP 5xx answer
	CodeServer ErrorCode = "server"
	// CodeClient means an HTTP 4xx answer that maps to no known business error
	CodeClient ErrorCode = "client"
	// CodeMalformed means the body was not the expected JSON envelope
	CodeMalformed ErrorCode = "malformed"
	// CodeBusiness means a non-zero application code without a more specific mapping
	CodeBusiness ErrorCode = "business"
	// CodeTaskNotFound means the remote service does not know the task
	CodeTaskNotFound ErrorCode = "task_not_found"
	// CodeTaskRunning means the task has not finished yet
	CodeTaskRunning ErrorCode = "task_running"
	// CodeTaskFailed means the remote task ended with an error
	CodeTaskFailed ErrorCode = "task_failed"
	// CodeInvalidRequest means the remote service rejected the request parameters
	CodeInvalidRequest ErrorCode = "invalid_request"
	// CodeUnauthorized means the api key was rejected
	CodeUnauthorized ErrorCode = "unauthorized"
	// CodeNoOutput means the outputs carry no usable media
	CodeNoOutput ErrorCode = "no_output"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("runninghub: api key is required")

// APIError is returned by every client operation that fails.
type APIError struct {
	Op         string
	Code       ErrorCode
	HTTPStatus int
	RemoteCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("runninghub %s: %s (code=%s, http=%d)", e.Op, msg, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("runninghub %s: %s (code=%s)", e.Op, msg, e.Code)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// remoteMessages maps the service's message tokens to codes. Matching is exact.
var remoteMessages = map[string]ErrorCode{
	"APIKEY_TASK_IS_RUNNING":     CodeTaskRunning,
	"APIKEY_TASK_IS_QUEUED":      CodeTaskRunning,
	"APIKEY_TASK_NOT_FOUND":      CodeTaskNotFound,
	"APIKEY_INVALID_TASK_ID":     CodeTaskNotFound,
	"TASK_NOT_FOUND":             CodeTaskNotFound,
	"APIKEY_TASK_STATUS_ERROR":   CodeTaskFailed,
	"APIKEY_INVALID":             CodeUnauthorized,
	"APIKEY_UNAUTHORIZED":        CodeUnauthorized,
	"APIKEY_USER_NOT_FOUND":      CodeUnauthorized,
	"APIKEY_INVALID_NODE_INFO":   CodeInvalidRequest,
	"APIKEY_INVALID_WEBAPP_ID":   CodeInvalidRequest,
	"APIKEY_FILE_SIZE_EXCEEDED":  CodeInvalidRequest,
	"APIKEY_UNSUPPORTED_FORMAT":  CodeInvalidRequest,
	"APIKEY_TASK_QUEUE_MAXED":    CodeBusiness,
	"APIKEY_INSUFFICIENT_COINS":  CodeBusiness,
	"WEBAPP_NOT_EXISTS":          CodeInvalidRequest,
	"PARAMS_INVALID":             CodeInvalidRequest,
	"TOKEN_INVALID":              CodeUnauthorized,
	"TASK_IS_RUNNING":            CodeTaskRunning,
	"TASK_IS_QUEUED":             CodeTaskRunning,
	"TASK_STATUS_ERROR":          CodeTaskFailed,
	"TASK_INSTANCE_MAXED":        CodeBusiness,
	"APIKEY_TASK_CREATE_FAILED":  CodeBusiness,
	"APIKEY_WEBAPP_NOT_EXISTS":   CodeInvalidRequest,
	"APIKEY_NODE_INFO_NOT_MATCH": CodeInvalidRequest,
}

// remoteCodes maps numeric application codes to codes.
var remoteCodes = map[int]ErrorCode{
	804: CodeTaskRunning,
	805: CodeTaskFailed,
	807: CodeTaskNotFound,
	813: CodeTaskRunning,
}

func classifyRemote(code int, msg string) (ErrorCode, bool) {
	if c, ok := remoteMessages[msg]; ok {
		return c, true
	}
	if c, ok := remoteCodes[code]; ok {
		return c, true
	}
	return "", false
}
