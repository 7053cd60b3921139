// Package suite implements the parser and merger for PAPR suite
// documents: the YAML stream at the root of a tested repository that
// declares one or more test suites to run against a revision.
package suite

import "fmt"

// Kind distinguishes the taxonomy of errors a suite document can
// produce so that callers can tell user data problems apart from
// infrastructure problems (see the ForgeClient status/comment flow in
// package revision).
type Kind int

const (
	// KindMalformedInput means the file could not even be read as a
	// UTF-8 YAML document stream.
	KindMalformedInput Kind = iota
	// KindSchemaViolation means the YAML parsed fine but one or more
	// documents did not conform to the suite schema.
	KindSchemaViolation
)

// Error is the error type returned for any problem traceable to the
// suite document itself, never to the runtime. Both taxonomy members
// (MalformedInput, SchemaViolation) are represented by this type,
// distinguished by Kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func malformed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindMalformedInput, Msg: fmt.Sprintf(format, args...)}
}

func schemaViolation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindSchemaViolation, Msg: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err is a suite.Error, i.e. a problem with
// the suite document itself rather than the runtime.
func IsUserError(err error) bool {
	_, ok := err.(*Error)
	return ok
}

// ordinal renders n as "1st", "2nd", "3rd", "4th", ... matching the
// wording used in the original suite parser's error messages.
func ordinal(n int) string {
	suffix := "th"
	if n%100 < 11 || n%100 > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
