// Package localforge provides an in-memory, gorilla/mux-routed HTTP
// server implementing the same status/comment REST shape as GitHub, so
// integration tests can exercise pkg/forge.Client without real
// credentials or network access. Modeled on sonobuoy's
// pkg/plugin/aggregation/server.go HTTP-server idiom (mux routing,
// handler closures over a shared, mutex-guarded store).
package localforge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/projectatomic/papr/pkg/forge"
)

// StatusPost records one PostStatus call.
type StatusPost struct {
	SHA         string
	State       forge.State
	Context     string
	Description string
	URL         string
}

// CommentPost records one PostComment call.
type CommentPost struct {
	IssueID int
	Text    string
}

// Server is an in-memory forge double. It keeps every status/comment it
// has ever received so tests can assert on the full history.
type Server struct {
	mu       sync.Mutex
	statuses []StatusPost
	comments []CommentPost

	httpSrv *httptest.Server
}

// New starts a local HTTP server (on a random port) implementing the
// GitHub status/comment REST shape.
func New() *Server {
	s := &Server{}
	r := mux.NewRouter()
	r.HandleFunc("/repos/{repo:.+}/statuses/{sha}", s.handleStatus).Methods(http.MethodPost)
	r.HandleFunc("/repos/{repo:.+}/issues/{id:[0-9]+}/comments", s.handleComment).Methods(http.MethodPost)
	s.httpSrv = httptest.NewServer(r)
	return s
}

// URL returns the base URL suitable for forge.GitHubClient.APIURL.
func (s *Server) URL() string { return s.httpSrv.URL }

// Close shuts down the underlying HTTP server.
func (s *Server) Close() { s.httpSrv.Close() }

// Statuses returns every status post received so far, in order.
func (s *Server) Statuses() []StatusPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StatusPost, len(s.statuses))
	copy(out, s.statuses)
	return out
}

// Comments returns every comment post received so far, in order.
func (s *Server) Comments() []CommentPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CommentPost, len(s.comments))
	copy(out, s.comments)
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	post := StatusPost{SHA: vars["sha"]}
	if v, ok := data["state"].(string); ok {
		post.State = forge.State(v)
	}
	post.Context, _ = data["context"].(string)
	post.Description, _ = data["description"].(string)
	post.URL, _ = data["target_url"].(string)

	s.mu.Lock()
	s.statuses = append(s.statuses, post)
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"state": string(post.State)})
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, _ := strconv.Atoi(vars["id"])
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	body, _ := data["body"].(string)

	s.mu.Lock()
	s.comments = append(s.comments, CommentPost{IssueID: id, Text: body})
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"body": body})
}
