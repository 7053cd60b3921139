package localforge

import (
	"testing"

	"github.com/projectatomic/papr/pkg/forge"
)

func TestLocalForgeRoundTrip(t *testing.T) {
	srv := New()
	defer srv.Close()

	c := forge.NewGitHubClient("owner/repo", "tok", nil)
	c.APIURL = srv.URL()

	if err := c.PostStatus("deadbeef", forge.StateSuccess, "ci", "all good", "https://example.com/x"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := c.PostComment(7, "hello there"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	statuses := srv.Statuses()
	if len(statuses) != 1 || statuses[0].SHA != "deadbeef" || statuses[0].State != forge.StateSuccess {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}

	comments := srv.Comments()
	if len(comments) != 1 || comments[0].IssueID != 7 || comments[0].Text != "hello there" {
		t.Fatalf("unexpected comments: %+v", comments)
	}
}
