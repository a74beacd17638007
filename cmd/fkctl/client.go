package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

// httpTimeout bounds one request/response cycle. The watch stream uses its
// own client without a deadline.
const httpTimeout = 30 * time.Second

// apiError mirrors keeperd's error envelope.
type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func apiURL(path string) string { return serverURL + path }

// decodeError turns a non-2xx response into a readable error, preferring
// the server's envelope over the raw body.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Detail != "" {
			return fmt.Errorf("%s: %s", e.Error, e.Detail)
		}
		return fmt.Errorf("%s", e.Error)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func doRequest(req *http.Request, out any) error {
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// getJSON GETs path and decodes the response into out.
func getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, apiURL(path), nil)
	if err != nil {
		return err
	}
	return doRequest(req, out)
}

// postJSON POSTs body as JSON to path and decodes the response into out.
func postJSON(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, apiURL(path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(req, out)
}

// deleteJSON issues a DELETE and decodes the response into out.
func deleteJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodDelete, apiURL(path), nil)
	if err != nil {
		return err
	}
	return doRequest(req, out)
}

// postMultipart uploads one "file" part plus form fields. Empty field
// values are omitted.
func postMultipart(path, filename string, data []byte, fields map[string]string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("build upload: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, apiURL(path), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return doRequest(req, out)
}

// printJSON prints v as indented JSON when --json is set. Returns whether
// it printed, so callers can fall through to plain output.
func printJSON(v any) bool {
	if !jsonOut {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
	return true
}
