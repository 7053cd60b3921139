// Package publish defines the contract for shipping a SuiteRun's
// staging directory (logs + artifacts) somewhere durable and
// world-readable, and handing back a landing URL.
package publish

import (
	"context"
	"strings"
)

// Publisher uploads a SuiteRun's results and returns a URL a human can
// open to view them.
type Publisher interface {
	// PublishDir uploads every file under dir, preserving relative
	// structure, to destKey. Files with a ".log" extension are tagged
	// "text/plain; charset=utf-8"; everything else gets an inferred or
	// default type. When dir contains exactly one file, that file is
	// the landing object; otherwise the landing object is "index.html"
	// (the caller is responsible for having generated one).
	PublishDir(ctx context.Context, dir, destKey string) (string, error)

	// PublishBlob uploads a single in-memory object to destKey with the
	// given content type.
	PublishBlob(ctx context.Context, data []byte, destKey, contentType string) (string, error)
}

// ContentType returns the MIME type PAPR assigns to a file based on its
// extension: ".log" is plain UTF-8 text, ".html" and ".json" get their
// own types, and everything else defaults to the generic octet stream
// type.
func ContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".log"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(name, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
