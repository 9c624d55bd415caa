package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 serves the handful of S3 calls the adapter issues.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	respond := func(status int, body []byte, header http.Header) *http.Response {
		if header == nil {
			header = http.Header{}
		}
		return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header, Request: req}
	}
	objectHeader := func(obj fakeObject) http.Header {
		return http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"etag"`},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}}), nil
	}
	obj, ok := f.objects[key]
	switch req.Method {
	case http.MethodHead:
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, nil, objectHeader(obj)), nil
	case http.MethodGet:
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, obj.body, objectHeader(obj)), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return respond(http.StatusOK, nil, http.Header{"Etag": {`"etag"`}}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

// decodeChunked strips aws-chunked framing: <hex>[;ext]\r\n<data>\r\n ... 0\r\n<trailers>.
func decodeChunked(b []byte) []byte {
	var out []byte
	for len(b) > 0 {
		i := bytes.Index(b, []byte("\r\n"))
		if i < 0 {
			break
		}
		sizeField := string(b[:i])
		if j := strings.IndexByte(sizeField, ';'); j >= 0 {
			sizeField = sizeField[:j]
		}
		n, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil || n == 0 {
			break
		}
		b = b[i+2:]
		if int64(len(b)) < n {
			break
		}
		out = append(out, b[:n]...)
		b = bytes.TrimPrefix(b[n:], []byte("\r\n"))
	}
	return out
}

func newFakeS3(t *testing.T) *S3 {
	t.Helper()
	s, err := NewS3(context.Background(), S3Config{
		Bucket:          "clinic-images",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: &fakeS3{objects: map[string]fakeObject{}}},
	})
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	return s
}

func stores(t *testing.T) map[string]Store {
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
		"s3":     newFakeS3(t),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			info, err := s.Put(ctx, "patients/p1/a.png", strings.NewReader("hello"), PutOptions{ContentType: "image/png"})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Size != 5 {
				t.Fatalf("expected size 5, got %d", info.Size)
			}
			if _, err := s.Put(ctx, "patients/p1/a.png", strings.NewReader("again"), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			got, rc, err := s.Get(ctx, "patients/p1/a.png")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			body, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(body) != "hello" || got.ContentType != "image/png" {
				t.Fatalf("unexpected blob %q %+v", body, got)
			}
			if _, err := s.Put(ctx, "patients/p2/b.png", strings.NewReader("x"), PutOptions{}); err != nil {
				t.Fatalf("put second: %v", err)
			}
			list, err := s.List(ctx, "patients/p1/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 1 || list[0].Key != "patients/p1/a.png" {
				t.Fatalf("unexpected list %+v", list)
			}
			if _, _, err := s.Get(ctx, "patients/missing.png"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			removed, err := s.Delete(ctx, "patients/p1/a.png")
			if err != nil || !removed {
				t.Fatalf("delete: %v %v", removed, err)
			}
			removed, err = s.Delete(ctx, "patients/p1/a.png")
			if err != nil || removed {
				t.Fatalf("second delete: %v %v", removed, err)
			}
			if _, err := s.Head(ctx, "patients/p1/a.png"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	for _, key := range []string{"", "../x", "/abs", "patients/"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	if _, err := s.Put(context.Background(), "patients/p1/a.png", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	for _, p := range []string{"objects/patients/p1/a.png", "meta/patients/p1/a.png.json"} {
		if _, err := os.Stat(filepath.Join(s.Root(), p)); err != nil {
			t.Fatalf("expected %s on disk: %v", p, err)
		}
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: DriverMemory})
	if err != nil || s.Driver() != DriverMemory {
		t.Fatalf("memory: %v %v", s, err)
	}
	s, err = Open(ctx, Options{FSRoot: t.TempDir()})
	if err != nil || s.Driver() != DriverFilesystem {
		t.Fatalf("default fs: %v %v", s, err)
	}
	if _, err := Open(ctx, Options{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, Options{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000IHDR")

func TestImagesSaveAcceptsOnlyImages(t *testing.T) {
	ctx := context.Background()
	im := NewImages(NewMemory())
	info, err := im.Save(ctx, "PAT-1", "C:\\photos\\Face.PNG", bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(info.Key, "patients/PAT-1/") || !strings.HasSuffix(info.Key, "-face.png") {
		t.Fatalf("unexpected key %s", info.Key)
	}
	if info.ContentType != "image/png" {
		t.Fatalf("unexpected content type %s", info.ContentType)
	}
	if _, err := im.Save(ctx, "PAT-1", "notes.txt", strings.NewReader("plain text")); err == nil {
		t.Fatalf("expected non-image rejection")
	}
	list, err := im.ForPatient(ctx, "PAT-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one image, got %v (%v)", list, err)
	}
	if err := im.Remove(ctx, info.Key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if list, _ := im.ForPatient(ctx, "PAT-1"); len(list) != 0 {
		t.Fatalf("expected no images after remove")
	}
}

func TestImagesSaveRejectsOversized(t *testing.T) {
	im := NewImages(NewMemory())
	big := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, MaxImageBytes)...)
	if _, err := im.Save(context.Background(), "PAT-1", "big.png", bytes.NewReader(big)); err == nil {
		t.Fatalf("expected size error")
	}
	if list, _ := im.ForPatient(context.Background(), "PAT-1"); len(list) != 0 {
		t.Fatalf("oversized image must not be kept")
	}
}
