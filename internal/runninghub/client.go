package runninghub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://www.runninghub.cn"
	defaultTimeout = 60 * time.Second

	uploadPath  = "/task/openapi/upload"
	runPath     = "/task/openapi/ai-app/run"
	statusPath  = "/task/openapi/status"
	outputsPath = "/task/openapi/outputs"
)

// Options configures the RunningHub client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// Client performs single-attempt calls against the RunningHub task API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// File is an upload payload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// NodeInfo is one entry of a run request's nodeInfoList.
type NodeInfo struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

// RunResult is the accepted run.
type RunResult struct {
	TaskID     string `json:"taskId"`
	ClientID   string `json:"clientId"`
	NetWssURL  string `json:"netWssUrl"`
	TaskStatus string `json:"taskStatus"`
}

// StatusResponse is the raw outcome of a status query.
type StatusResponse struct {
	HTTPStatus int
	Text       string
}

// Output is the selected result media of a finished task.
type Output struct {
	MediaURL    string
	FileType    string
	CostSeconds *float64
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type taskRequest struct {
	APIKey string `json:"apiKey"`
	TaskID string `json:"taskId"`
}

type runRequest struct {
	WebappID     string     `json:"webappId"`
	APIKey       string     `json:"apiKey"`
	NodeInfoList []NodeInfo `json:"nodeInfoList"`
}

type uploadData struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

type outputItem struct {
	FileURL      string  `json:"fileUrl"`
	FileType     string  `json:"fileType"`
	TaskCostTime seconds `json:"taskCostTime"`
}

type failedData struct {
	FailedReason struct {
		ExceptionMessage string `json:"exception_message"`
		NodeName         string `json:"node_name"`
	} `json:"failedReason"`
}

// seconds accepts both "12" and 12.
type seconds struct {
	value *float64
}

func (s *seconds) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	s.value = &v
	return nil
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Upload sends the input file and returns the remote file identifier.
func (c *Client) Upload(ctx context.Context, file File) (string, error) {
	const op = "upload"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("apiKey", c.apiKey); err != nil {
		return "", &APIError{Op: op, Code: CodeTransport, Err: err}
	}
	if err := mw.WriteField("fileType", uploadFileType(file.ContentType)); err != nil {
		return "", &APIError{Op: op, Code: CodeTransport, Err: err}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName(file.Name))))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", &APIError{Op: op, Code: CodeTransport, Err: err}
	}
	if _, err := part.Write(file.Data); err != nil {
		return "", &APIError{Op: op, Code: CodeTransport, Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &APIError{Op: op, Code: CodeTransport, Err: err}
	}

	env, _, err := c.do(ctx, op, uploadPath, mw.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	var data uploadData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.FileName == "" {
		return "", &APIError{Op: op, Code: CodeMalformed, Message: "missing fileName in upload response"}
	}
	c.logger.Debug("RunningHub upload accepted",
		slog.String("file_name", data.FileName),
		slog.Int("size", len(file.Data)),
	)
	return data.FileName, nil
}

// Run starts a webapp with the given node assignments.
func (c *Client) Run(ctx context.Context, webappID string, nodes []NodeInfo) (RunResult, error) {
	const op = "run"
	if nodes == nil {
		nodes = []NodeInfo{}
	}
	env, _, err := c.postJSON(ctx, op, runPath, runRequest{
		WebappID:     webappID,
		APIKey:       c.apiKey,
		NodeInfoList: nodes,
	})
	if err != nil {
		return RunResult{}, err
	}
	var result RunResult
	if err := json.Unmarshal(env.Data, &result); err != nil || result.TaskID == "" {
		return RunResult{}, &APIError{Op: op, Code: CodeMalformed, Message: "missing taskId in run response"}
	}
	c.logger.Info("RunningHub task submitted",
		slog.String("webapp_id", webappID),
		slog.String("task_id", result.TaskID),
		slog.String("task_status", result.TaskStatus),
	)
	return result, nil
}

// Status queries the task status once.
func (c *Client) Status(ctx context.Context, taskID string) (StatusResponse, error) {
	const op = "status"
	env, httpStatus, err := c.postJSON(ctx, op, statusPath, taskRequest{APIKey: c.apiKey, TaskID: taskID})
	if err != nil {
		return StatusResponse{HTTPStatus: httpStatus}, err
	}
	text, ok := statusText(env.Data)
	if !ok {
		return StatusResponse{HTTPStatus: httpStatus}, &APIError{
			Op:         op,
			Code:       CodeMalformed,
			HTTPStatus: httpStatus,
			Message:    "status payload is neither a string nor an object",
		}
	}
	return StatusResponse{HTTPStatus: httpStatus, Text: text}, nil
}

// Outputs fetches the task outputs and selects the first usable media file.
func (c *Client) Outputs(ctx context.Context, taskID string) (Output, error) {
	const op = "outputs"
	env, httpStatus, err := c.postJSON(ctx, op, outputsPath, taskRequest{APIKey: c.apiKey, TaskID: taskID})
	if err != nil {
		return Output{}, err
	}
	var items []outputItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return Output{}, &APIError{Op: op, Code: CodeMalformed, HTTPStatus: httpStatus, Message: "outputs payload is not a list"}
	}
	for _, item := range items {
		url := strings.TrimSpace(item.FileURL)
		if url == "" {
			continue
		}
		fileType := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(item.FileType), "."))
		if fileType == "" || mediaExtensions[fileType] {
			return Output{MediaURL: url, FileType: fileType, CostSeconds: item.TaskCostTime.value}, nil
		}
	}
	return Output{}, &APIError{Op: op, Code: CodeNoOutput, HTTPStatus: httpStatus, Message: "no image or video in task outputs"}
}

func (c *Client) postJSON(ctx context.Context, op, endpoint string, payload any) (envelope, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, 0, &APIError{Op: op, Code: CodeTransport, Err: fmt.Errorf("encode request: %w", err)}
	}
	return c.do(ctx, op, endpoint, "application/json", bytes.NewReader(body))
}

// do performs one request and maps every failure to an *APIError.
func (c *Client) do(ctx context.Context, op, endpoint, contentType string, body io.Reader) (envelope, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return envelope{}, 0, &APIError{Op: op, Code: CodeTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, 0, &APIError{Op: op, Code: CodeTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, resp.StatusCode, &APIError{Op: op, Code: CodeTransport, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return envelope{}, resp.StatusCode, &APIError{
			Op:         op,
			Code:       CodeServer,
			HTTPStatus: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(raw)), 200),
		}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Op: op, Code: CodeClient, HTTPStatus: resp.StatusCode, Message: truncate(strings.TrimSpace(string(raw)), 200)}
		if decodeErr == nil {
			apiErr.RemoteCode = env.Code
			apiErr.Message = env.Msg
			if code, ok := classifyRemote(env.Code, env.Msg); ok {
				apiErr.Code = code
			}
		}
		return envelope{}, resp.StatusCode, apiErr
	}

	if decodeErr != nil {
		return envelope{}, resp.StatusCode, &APIError{Op: op, Code: CodeMalformed, HTTPStatus: resp.StatusCode, Err: decodeErr}
	}
	if env.Code != 0 {
		apiErr := &APIError{Op: op, Code: CodeBusiness, HTTPStatus: resp.StatusCode, RemoteCode: env.Code, Message: env.Msg}
		if code, ok := classifyRemote(env.Code, env.Msg); ok {
			apiErr.Code = code
		}
		if apiErr.Code == CodeTaskFailed {
			var failed failedData
			if err := json.Unmarshal(env.Data, &failed); err == nil && failed.FailedReason.ExceptionMessage != "" {
				apiErr.Message = failed.FailedReason.ExceptionMessage
			}
		}
		return envelope{}, resp.StatusCode, apiErr
	}
	return env, resp.StatusCode, nil
}

// statusText accepts `"RUNNING"` or an object carrying the status.
func statusText(data json.RawMessage) (string, bool) {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return strings.TrimSpace(text), true
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return "", false
	}
	for _, key := range []string{"status", "taskStatus", "state"} {
		if v, ok := obj[key].(string); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", true
}

var mediaExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"webp": true,
	"gif":  true,
	"bmp":  true,
	"mp4":  true,
	"mov":  true,
	"webm": true,
	"avi":  true,
	"mkv":  true,
}

func uploadFileType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	default:
		return "input"
	}
}

func fileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "upload.bin"
	}
	return name
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
