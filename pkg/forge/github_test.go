package forge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sethgrid/pester"
)

func newTestGitHubClient(apiURL string) *GitHubClient {
	return &GitHubClient{
		Repo:   "owner/repo",
		Token:  "tok",
		APIURL: apiURL,
		client: pester.New(),
	}
}

func TestPostStatusNoTokenIsNoop(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewGitHubClient("owner/repo", "", nil)
	if err := c.PostStatus("deadbeef", StateSuccess, "ci", "ok", ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if called {
		t.Errorf("expected no HTTP call without a token")
	}
}

func TestPostStatusDropsNonHTTPURL(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestGitHubClient(srv.URL)
	if err := c.PostStatus("deadbeef", StateSuccess, "ci", "ok", "not-a-url"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok := gotBody["target_url"]; ok {
		t.Errorf("expected target_url to be omitted for a non-http(s) url")
	}
}

func TestPostStatusDetectsCommitNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message": "No commit found for SHA: deadbeef"}`))
	}))
	defer srv.Close()

	c := newTestGitHubClient(srv.URL)
	err := c.PostStatus("deadbeef", StateSuccess, "ci", "ok", "")
	if _, ok := err.(*CommitNotFoundError); !ok {
		t.Fatalf("expected *CommitNotFoundError, got %#v", err)
	}
}

func TestPostCommentSendsBody(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/issues/42/comments" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestGitHubClient(srv.URL)
	if err := c.PostComment(42, "hello"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if gotBody["body"] != "hello" {
		t.Errorf("expected comment body 'hello', got %v", gotBody["body"])
	}
}
