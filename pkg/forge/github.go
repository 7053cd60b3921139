package forge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	"github.com/sirupsen/logrus"
)

const githubAPIURL = "https://api.github.com"

// GitHubClient is the concrete forge.Client for GitHub's REST API,
// reproducing papr/github.py's GitHub class. When Token is empty, posts
// are only logged, not sent. This lets `papr validate` and local dry
// runs exercise the same code path without credentials.
type GitHubClient struct {
	Repo   string
	Token  string
	APIURL string // defaults to githubAPIURL; overridable in tests
	log    *logrus.Entry
	client *pester.Client
}

// NewGitHubClient builds a client that retries transient network errors
// via sethgrid/pester.
func NewGitHubClient(repo, token string, log *logrus.Entry) *GitHubClient {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := pester.New()
	c.MaxRetries = 3
	c.Backoff = pester.ExponentialBackoff
	return &GitHubClient{Repo: repo, Token: token, APIURL: githubAPIURL, log: log, client: c}
}

func (g *GitHubClient) apiURL() string {
	if g.APIURL != "" {
		return g.APIURL
	}
	return githubAPIURL
}

func (g *GitHubClient) logger() *logrus.Entry {
	if g.log != nil {
		return g.log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (g *GitHubClient) PostStatus(sha string, state State, context, description, url string) error {
	data := map[string]interface{}{"state": string(state)}
	if context != "" {
		data["context"] = context
	}
	if description != "" {
		data["description"] = description
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		data["target_url"] = url
	}

	err := g.post(fmt.Sprintf("statuses/%s", sha), data)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(apiErr.Message, "No commit found for SHA") {
		return &CommitNotFoundError{SHA: sha}
	}
	return err
}

func (g *GitHubClient) PostComment(issueID int, text string) error {
	return g.post(fmt.Sprintf("issues/%d/comments", issueID), map[string]interface{}{"body": text})
}

func (g *GitHubClient) post(endpoint string, data map[string]interface{}) error {
	g.logger().Infof("GitHub POST to %q with %v", endpoint, data)

	if g.Token == "" {
		return nil
	}

	body, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshaling status body")
	}

	url := fmt.Sprintf("%s/repos/%s/%s", g.apiURL(), g.Repo, endpoint)

	resp, respBody, err := g.doPost(url, body)
	if err != nil {
		return errors.Wrap(err, "posting to github")
	}

	var decoded map[string]interface{}
	if jsonErr := json.Unmarshal(respBody, &decoded); jsonErr != nil {
		// The GitHub API is occasionally flaky and returns a
		// non-JSON body; retry exactly once before giving up.
		g.logger().Warnf("expected JSON, got: %s; retrying", respBody)
		resp, respBody, err = g.doPost(url, body)
		if err != nil {
			return errors.Wrap(err, "posting to github (retry)")
		}
	}

	if resp.StatusCode != http.StatusCreated {
		msg, _ := extractMessage(respBody)
		return &APIError{URL: url, StatusCode: resp.StatusCode, Message: msg}
	}
	return nil
}

func (g *GitHubClient) doPost(url string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "token "+g.Token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp, nil, err
	}
	return resp, buf.Bytes(), nil
}

func extractMessage(body []byte) (string, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return string(body), err
	}
	if msg, ok := m["message"].(string); ok {
		return msg, nil
	}
	return string(body), nil
}
