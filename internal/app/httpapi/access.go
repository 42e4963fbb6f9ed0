package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/kaykluz/kiisha-dev-sub002/internal/middleware"
)

// AccessEntry is one API call seen by the router.
type AccessEntry struct {
	Time       time.Time `json:"time"`
	User       string    `json:"user"`
	Org        string    `json:"org"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AccessSink persists access entries beyond the in-memory ring.
type AccessSink interface {
	Write(entry AccessEntry) error
}

type accessLog struct {
	mu      sync.Mutex
	entries []AccessEntry
	max     int
	sink    AccessSink
}

func newAccessLog(max int, sink AccessSink) *accessLog {
	if max <= 0 {
		max = 200
	}
	return &accessLog{max: max, sink: sink}
}

func (l *accessLog) add(entry AccessEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		// Best-effort persistence; never block the request path.
		_ = l.sink.Write(entry)
	}
}

func (l *accessLog) list() []AccessEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AccessEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// recordAccess captures who called what on the authenticated surface.
func (h *handler) recordAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := AccessEntry{
			Time:       time.Now().UTC(),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		}
		if actor, ok := middleware.ActorFrom(r.Context()); ok {
			entry.User = actor.UserID
			entry.Org = actor.PrimaryOrg()
		}
		h.access.add(entry)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// FileAccessSink appends access entries as JSONL.
type FileAccessSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAccessSink opens (or creates) the JSONL file at path. An empty
// path yields a nil sink.
func NewFileAccessSink(path string) (*FileAccessSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileAccessSink{file: f}, nil
}

func (s *FileAccessSink) Write(entry AccessEntry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}
