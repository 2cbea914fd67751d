// Package testutil provides in-process test doubles for exercising
// lfs/client against a real HTTP server without a network.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// LFSServer is a minimal Git-LFS batch+transfer HTTP server backed by an
// in-memory blob map, for testing lfs/client end to end.
type LFSServer struct {
	*httptest.Server

	mu      sync.Mutex
	blobs   map[string][]byte
	redact  map[string]bool
	verified map[string]bool
}

// NewLFSServer starts a test server. Call Close when done.
func NewLFSServer() *LFSServer {
	s := &LFSServer{
		blobs:    make(map[string][]byte),
		redact:   make(map[string]bool),
		verified: make(map[string]bool),
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

// Seed pre-populates the server with oid's content, as if it had been
// uploaded already.
func (s *LFSServer) Seed(oid string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[oid] = data
}

// Redact marks oid as redacted: ranged downloads return 410 Gone.
func (s *LFSServer) Redact(oid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redact[oid] = true
}

// Verified reports whether oid's upload was confirmed via the verify
// action.
func (s *LFSServer) Verified(oid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified[oid]
}

type batchReqObject struct {
	Oid  string `json:"oid"`
	Size int64  `json:"size"`
}

type batchReq struct {
	Operation string           `json:"operation"`
	Objects   []batchReqObject `json:"objects"`
}

type batchRespAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header,omitempty"`
}

type batchRespObject struct {
	Oid     string                     `json:"oid"`
	Size    int64                      `json:"size"`
	Actions map[string]batchRespAction `json:"actions,omitempty"`
}

type batchResp struct {
	Objects []batchRespObject `json:"objects"`
}

func (s *LFSServer) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/objects/batch", s.handleBatch)
	r.Get("/download/{oid}", s.handleDownload)
	r.Put("/upload/{oid}", s.handleUpload)
	r.Post("/verify/{oid}", s.handleVerify)
	return r
}

func (s *LFSServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := batchResp{Objects: make([]batchRespObject, 0, len(req.Objects))}
	for _, o := range req.Objects {
		actions := map[string]batchRespAction{}
		switch req.Operation {
		case "download":
			actions["download"] = batchRespAction{Href: s.URL + "/download/" + o.Oid}
		case "upload":
			actions["upload"] = batchRespAction{Href: s.URL + "/upload/" + o.Oid}
			actions["verify"] = batchRespAction{Href: s.URL + "/verify/" + o.Oid}
		}
		resp.Objects = append(resp.Objects, batchRespObject{Oid: o.Oid, Size: o.Size, Actions: actions})
	}

	w.Header().Set("Content-Type", "application/vnd.git-lfs+json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

func (s *LFSServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	oid := chi.URLParam(r, "oid")

	s.mu.Lock()
	redacted := s.redact[oid]
	data, ok := s.blobs[oid]
	s.mu.Unlock()

	if redacted {
		http.Error(w, "redacted", http.StatusGone)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	start, end := int64(0), int64(len(data))
	if rng := r.Header.Get("Range"); rng != "" {
		var err error
		start, end, err = parseRange(rng, int64(len(data)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end-1, 10)+"/"+strconv.FormatInt(int64(len(data)), 10))
		w.WriteHeader(http.StatusPartialContent)
	}
	w.Write(data[start:end]) //nolint:errcheck
}

func (s *LFSServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	oid := chi.URLParam(r, "oid")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.blobs[oid] = data
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *LFSServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	oid := chi.URLParam(r, "oid")
	s.mu.Lock()
	s.verified[oid] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// parseRange parses a single "bytes=start-end" Range header value.
func parseRange(header string, size int64) (start, end int64, err error) {
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if len(parts) == 2 && parts[1] != "" {
		e, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		end = e + 1
	} else {
		end = size
	}
	if end > size {
		end = size
	}
	return start, end, nil
}
