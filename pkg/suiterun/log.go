package suiterun

import (
	"fmt"
	"os"

	paprtime "github.com/projectatomic/papr/pkg/time"
)

// writeLogHeader writes the fixed header every phase log starts with,
// reproducing the format in spec.md §6.
func writeLogHeader(path string, rev RevisionInfo, suiteContext string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	now := paprtime.Now()
	fmt.Fprintf(f, "### Date: %s\n", now.Format("Mon Jan 2 15:04:05 MST 2006"))

	var revLine string
	if rev.isPull() {
		revLine = fmt.Sprintf("%s (PR #%d", rev.HeadSHA, rev.PullID)
		if !rev.IsMerge {
			revLine += " (WARNING: not merge commit, check for conflicts)"
		}
		revLine += ")"
	} else {
		revLine = fmt.Sprintf("%s (branch %s)", rev.HeadSHA, rev.Branch)
	}
	fmt.Fprintf(f, "### Revision: %s\n", revLine)
	fmt.Fprintf(f, "### URL: %s\n", rev.LandingURL)
	fmt.Fprintf(f, "### Suite: %s\n", suiteContext)
	if rev.BuildID != "" {
		fmt.Fprintf(f, "### BUILD_ID %s\n", rev.BuildID)
	}
	return nil
}
