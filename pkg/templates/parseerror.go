package templates

import "bytes"

var parseErrorTemplate = NewTemplate("parse-error-comment", `:boom: Invalid YAML file `+"`{{.Basename}}`"+`: {{.Err}}.

  {{indent 2 .Detail}}

You can use `+"`papr validate {{.Basename}}`"+` to validate your YAML file locally.
`)

// ParseErrorComment renders the PR comment body posted when a suite file
// fails to parse. detail carries the full (possibly multi-line) error
// text, quoted under the one-line summary; err is that one-line summary.
func ParseErrorComment(basename, err, detail string) (string, error) {
	var buf bytes.Buffer
	if execErr := parseErrorTemplate.Execute(&buf, struct {
		Basename, Err, Detail string
	}{basename, err, detail}); execErr != nil {
		return "", execErr
	}
	return buf.String(), nil
}
