package revision

import "github.com/projectatomic/papr/pkg/forge"

// dualSHAForge reposts every status against the PR's merge commit in
// addition to its head commit, reproducing PullTest.update_github_status's
// extra post "useful for homu's status-based exemptions". The sha
// argument callers pass is ignored in favor of headSHA: pkg/suiterun
// always calls PostStatus with the revision's HeadSHA, so this is
// exactly the hook point the original wrapped at the Test class level.
type dualSHAForge struct {
	inner            forge.Client
	headSHA, testSHA string
}

func (f *dualSHAForge) PostStatus(_ string, state forge.State, context, description, url string) error {
	if err := f.inner.PostStatus(f.headSHA, state, context, description, url); err != nil {
		return err
	}
	if f.testSHA != "" && f.testSHA != f.headSHA {
		return f.inner.PostStatus(f.testSHA, state, context, description, url)
	}
	return nil
}

func (f *dualSHAForge) PostComment(issueID int, text string) error {
	return f.inner.PostComment(issueID, text)
}
