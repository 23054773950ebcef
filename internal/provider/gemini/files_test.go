package gemini

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestNeedsUpload(t *testing.T) {
	if NeedsUpload(InlineThreshold) {
		t.Error("threshold itself should stay inline")
	}
	if !NeedsUpload(InlineThreshold + 1) {
		t.Error("payload above threshold should upload")
	}
}

func TestUploadFile(t *testing.T) {
	var starts, uploads int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-Goog-Upload-Command") {
		case "start":
			atomic.AddInt32(&starts, 1)
			if r.Header.Get("X-Goog-Upload-Protocol") != "resumable" {
				t.Error("missing resumable protocol header")
			}
			if r.Header.Get("X-Goog-Upload-Header-Content-Length") != "11" {
				t.Errorf("declared length = %s", r.Header.Get("X-Goog-Upload-Header-Content-Length"))
			}
			if r.Header.Get("X-Goog-Upload-Header-Content-Type") != "video/mp4" {
				t.Errorf("declared type = %s", r.Header.Get("X-Goog-Upload-Header-Content-Type"))
			}
			w.Header().Set("X-Goog-Upload-URL", srv.URL+"/session/42")
			w.Write([]byte(`{}`))

		case "upload, finalize":
			atomic.AddInt32(&uploads, 1)
			if r.URL.Path != "/session/42" {
				t.Errorf("session path = %s", r.URL.Path)
			}
			if r.Header.Get("X-Goog-Upload-Offset") != "0" {
				t.Errorf("offset = %s", r.Header.Get("X-Goog-Upload-Offset"))
			}
			payload, _ := io.ReadAll(r.Body)
			if string(payload) != "hello bytes" {
				t.Errorf("payload = %q", payload)
			}
			w.Write([]byte(`{"file":{"name":"files/abc123","uri":"https://files.example/abc123","mimeType":"video/mp4","sizeBytes":"11","displayName":"clip.mp4"}}`))

		default:
			t.Errorf("unexpected command %q", r.Header.Get("X-Goog-Upload-Command"))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("hello bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := testProvider(t, srv.URL)
	handle, err := p.UploadFile(context.Background(), path, "video/mp4")
	if err != nil {
		t.Fatal(err)
	}
	if handle.Name != "files/abc123" || handle.URI != "https://files.example/abc123" ||
		handle.SizeBytes != 11 || handle.DisplayName != "clip.mp4" {
		t.Errorf("handle = %+v", handle)
	}

	// Second upload of the same path hits the cache.
	again, err := p.UploadFile(context.Background(), path, "video/mp4")
	if err != nil {
		t.Fatal(err)
	}
	if again != handle {
		t.Error("cached handle not reused")
	}
	if atomic.LoadInt32(&starts) != 1 || atomic.LoadInt32(&uploads) != 1 {
		t.Errorf("starts=%d uploads=%d, want 1 each", starts, uploads)
	}
}

func TestGetListDeleteFiles(t *testing.T) {
	deleted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/files/abc123":
			w.Write([]byte(`{"name":"files/abc123","uri":"https://files.example/abc123","mimeType":"video/mp4"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/files":
			w.Write([]byte(`{"files":[{"name":"files/abc123"},{"name":"files/def456"}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/files/abc123":
			deleted = true
			w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"not found","status":"NOT_FOUND"}}`))
		}
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL)

	handle, err := p.GetFile(context.Background(), "files/abc123")
	if err != nil {
		t.Fatal(err)
	}
	if handle.Name != "files/abc123" || handle.MIMEType != "video/mp4" {
		t.Errorf("handle = %+v", handle)
	}

	files, err := p.ListFiles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}

	if err := p.DeleteFile(context.Background(), "abc123"); err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("delete never reached the server")
	}

	if _, err := p.GetFile(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing file")
	}
}
