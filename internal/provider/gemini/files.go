package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"modelgate/internal/provider"
)

// InlineThreshold is the payload size above which files go through the
// Files API instead of being inlined into the request.
const InlineThreshold = 15 * 1024 * 1024

// FileHandle is a remote object created by the resumable upload. The backend
// garbage-collects it after its own retention window.
type FileHandle struct {
	Name        string `json:"name"`
	URI         string `json:"uri"`
	MIMEType    string `json:"mimeType"`
	SizeBytes   int64  `json:"sizeBytes,string"`
	DisplayName string `json:"displayName"`
}

// NeedsUpload reports whether a payload of the given size must go through
// the Files API.
func NeedsUpload(size int64) bool {
	return size > InlineThreshold
}

// UploadFile pushes a local file through the two-step resumable upload and
// returns its remote handle. Handles are cached by absolute source path for
// the process lifetime, so re-attaching the same file is free. Upload calls
// do not run the retry loop.
func (p *Provider) UploadFile(ctx context.Context, path, mimeType string) (*FileHandle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if handle, ok := p.uploaded[abs]; ok {
		p.mu.Unlock()
		return handle, nil
	}
	p.mu.Unlock()

	apiKey, ok := p.Keys().Current()
	if !ok {
		return nil, fmt.Errorf("%s: no API keys configured", p.Name())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sessionURL, err := p.startUpload(ctx, apiKey, filepath.Base(abs), mimeType, int64(len(data)))
	if err != nil {
		return nil, err
	}
	handle, err := p.finalizeUpload(ctx, sessionURL, data)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.uploaded[abs] = handle
	p.mu.Unlock()

	log.WithFields(log.Fields{
		"file": handle.Name,
		"size": handle.SizeBytes,
	}).Info("file uploaded")
	return handle, nil
}

// startUpload performs the initiation call. The upload session URL comes back
// in the X-Goog-Upload-URL response header.
func (p *Provider) startUpload(ctx context.Context, apiKey, displayName, mimeType string, size int64) (string, error) {
	body, err := json.Marshal(map[string]any{
		"file": map[string]any{"display_name": displayName},
	})
	if err != nil {
		return "", err
	}

	startURL := fmt.Sprintf("%s/files?key=%s", p.cfg.UploadBaseURL, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.FormatInt(size, 10))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload start: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("upload start: %s", provider.ErrorBrief(string(raw), resp.StatusCode))
	}
	sessionURL := resp.Header.Get("X-Goog-Upload-URL")
	if sessionURL == "" {
		return "", fmt.Errorf("upload start: no session URL in response")
	}
	return sessionURL, nil
}

// finalizeUpload sends the complete payload in one shot and parses the
// resulting file metadata.
func (p *Provider) finalizeUpload(ctx context.Context, sessionURL string, data []byte) (*FileHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	req.Header.Set("X-Goog-Upload-Offset", "0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload finalize: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upload finalize: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload finalize: %s", provider.ErrorBrief(string(body), resp.StatusCode))
	}

	var wrapper struct {
		File FileHandle `json:"file"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("upload finalize: decode: %w", err)
	}
	if wrapper.File.URI == "" {
		return nil, fmt.Errorf("upload finalize: no file URI in response")
	}
	return &wrapper.File, nil
}

// GetFile fetches metadata for one uploaded object. Name accepts both the
// bare id and the files/ prefixed form.
func (p *Provider) GetFile(ctx context.Context, name string) (*FileHandle, error) {
	name = strings.TrimPrefix(name, "files/")
	apiKey, ok := p.Keys().Current()
	if !ok {
		return nil, fmt.Errorf("%s: no API keys configured", p.Name())
	}

	getURL := fmt.Sprintf("%s/files/%s?key=%s", p.cfg.BaseURL, url.PathEscape(name), url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.lister.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("get file: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get file: %s", provider.ErrorBrief(string(body), resp.StatusCode))
	}

	var handle FileHandle
	if err := json.Unmarshal(body, &handle); err != nil {
		return nil, fmt.Errorf("get file: decode: %w", err)
	}
	return &handle, nil
}

// ListFiles returns all uploaded objects still alive on the backend.
func (p *Provider) ListFiles(ctx context.Context) ([]FileHandle, error) {
	apiKey, ok := p.Keys().Current()
	if !ok {
		return nil, fmt.Errorf("%s: no API keys configured", p.Name())
	}

	listURL := fmt.Sprintf("%s/files?key=%s", p.cfg.BaseURL, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.lister.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("list files: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list files: %s", provider.ErrorBrief(string(body), resp.StatusCode))
	}

	var files []FileHandle
	gjson.GetBytes(body, "files").ForEach(func(_, item gjson.Result) bool {
		var handle FileHandle
		if json.Unmarshal([]byte(item.Raw), &handle) == nil {
			files = append(files, handle)
		}
		return true
	})
	return files, nil
}

// DeleteFile removes an uploaded object and drops any cache entries that
// point at it.
func (p *Provider) DeleteFile(ctx context.Context, name string) error {
	name = strings.TrimPrefix(name, "files/")
	apiKey, ok := p.Keys().Current()
	if !ok {
		return fmt.Errorf("%s: no API keys configured", p.Name())
	}

	delURL := fmt.Sprintf("%s/files/%s?key=%s", p.cfg.BaseURL, url.PathEscape(name), url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, delURL, nil)
	if err != nil {
		return err
	}

	resp, err := p.lister.Do(req)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("delete file: %s", provider.ErrorBrief(string(raw), resp.StatusCode))
	}

	p.mu.Lock()
	for path, handle := range p.uploaded {
		if strings.TrimPrefix(handle.Name, "files/") == name {
			delete(p.uploaded, path)
		}
	}
	p.mu.Unlock()
	return nil
}
