// Package testutils provides shared test infrastructure.
//
// The range server is available to every test. The minio helpers need
// Docker and are only built with the integration tag.
package testutils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// TestFile defines a served file.
type TestFile struct {
	Name string
	Data []byte
}

// GenerateTestData generates deterministic test data of the given size.
func GenerateTestData(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// Checksum returns the hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ServerOption configures StartTestHTTPServer.
type ServerOption func(*Server)

// WithoutRanges makes the server ignore Range headers and never advertise
// Accept-Ranges.
func WithoutRanges() ServerOption {
	return func(s *Server) { s.noRanges = true }
}

// WithGate blocks GET bodies until gate is closed or the request ends.
func WithGate(gate <-chan struct{}) ServerOption {
	return func(s *Server) { s.gate = gate }
}

// Server serves TestFiles with range request support.
type Server struct {
	*httptest.Server

	files    map[string][]byte
	noRanges bool
	gate     <-chan struct{}

	mu     sync.Mutex
	ranges []string
	gets   int
}

// StartTestHTTPServer starts an HTTP server serving files. It is closed when
// the test ends.
func StartTestHTTPServer(t *testing.T, files []TestFile, opts ...ServerOption) *Server {
	t.Helper()

	s := &Server{files: make(map[string][]byte)}
	for _, f := range files {
		s.files["/"+f.Name] = f.Data
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// FileURL returns the URL of the named file.
func (s *Server) FileURL(name string) string {
	return s.Server.URL + "/" + name
}

// Gets returns the number of GET requests served.
func (s *Server) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Ranges returns the Range headers received, in arrival order.
func (s *Server) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	data, ok := s.files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}

	size := int64(len(data))
	etag := fmt.Sprintf(`"%s"`, r.URL.Path)

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if !s.noRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.Header().Set("ETag", etag)
		return
	}

	rangeHeader := r.Header.Get("Range")
	s.mu.Lock()
	s.gets++
	if rangeHeader != "" {
		s.ranges = append(s.ranges, rangeHeader)
	}
	s.mu.Unlock()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-r.Context().Done():
			return
		}
	}

	if rangeHeader == "" || s.noRanges {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("ETag", etag)
		w.Write(data)
		return
	}

	// Parse range header: bytes=start-end
	rangeHeader = strings.TrimPrefix(rangeHeader, "bytes=")
	parts := strings.Split(rangeHeader, "-")
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end, _ := strconv.ParseInt(parts[1], 10, 64)

	if end >= size {
		end = size - 1
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : end+1])
}

// CompareReaderToData compares reader output with expected data in chunks.
func CompareReaderToData(t *testing.T, reader io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 64*1024)
	offset := 0

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read more data than expected: offset=%d, n=%d, expected len=%d",
					offset, n, len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
