// Package client talks to the spreadsheet API: it uploads workbooks, reads
// their status and fetches decoded data.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sheetviz/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// Client is an authenticated API client.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	// Msgpack requests file data as MessagePack instead of JSON.
	Msgpack bool
}

// New creates a client for baseURL, e.g. "http://localhost:5000".
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	Message string `json:"message"`
	FileID  string `json:"fileId"`
	Status  string `json:"status"`
}

// StatusResponse is the status projection of a file record.
type StatusResponse struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Metadata     *models.Metadata `json:"metadata,omitempty"`
	OriginalName string           `json:"originalName"`
	UploadDate   time.Time        `json:"uploadDate"`
}

// DataResponse holds the decoded sheets of a completed file.
type DataResponse struct {
	ID       string             `json:"id" msgpack:"id"`
	Name     string             `json:"name" msgpack:"name"`
	Sheets   []models.SheetData `json:"sheets" msgpack:"sheets"`
	Metadata *models.Metadata   `json:"metadata" msgpack:"metadata"`
}

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	State      string `json:"status"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the server asked the caller to try again later.
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// Upload sends the workbook at path.
func (c *Client) Upload(ctx context.Context, path string) (*UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.UploadReader(ctx, filepath.Base(path), f)
}

// UploadReader sends a workbook read from r under the given file name.
func (c *Client) UploadReader(ctx context.Context, name string, r io.Reader) (*UploadResponse, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="excelFile"; filename=%q`, name))
	h.Set("Content-Type", contentTypeFor(name))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/excel/upload", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the current status of a file.
func (c *Client) Status(ctx context.Context, fileID string) (*StatusResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/excel/status/"+fileID, nil)
	if err != nil {
		return nil, err
	}
	var resp StatusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Data fetches the decoded sheets of a completed file.
func (c *Client) Data(ctx context.Context, fileID string) (*DataResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/excel/data/"+fileID, nil)
	if err != nil {
		return nil, err
	}
	if c.Msgpack {
		req.Header.Set("Accept", "application/msgpack")
	}
	var resp DataResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/msgpack") {
		return msgpack.Unmarshal(data, out)
	}
	return json.Unmarshal(data, out)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xls":
		return "application/vnd.ms-excel"
	default:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
}
