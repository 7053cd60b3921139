package suite

import (
	"bytes"
	"io"
	"os"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// defaultContext is used for the first document in a suite stream when it
// doesn't declare its own context.
const defaultContext = "Red Hat CI"

var envSelectorKeys = []string{"container", "host", "cluster"}

// Parse reads the suite document stream at path and returns the ordered
// sequence of CanonicalSuites it describes. See the package doc and
// SPEC_FULL.md §5.1 for the full merge/validate algorithm.
func Parse(path string) ([]CanonicalSuite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading suite file %q", path)
	}

	if !utf8.Valid(data) {
		return nil, malformed("file is not valid UTF-8")
	}

	raws, err := decodeAll(data)
	if err != nil {
		return nil, malformed("file could not be parsed as valid YAML: %v", err)
	}

	return mergeAndValidate(raws)
}

// decodeAll materializes every document in the stream up front so that any
// syntax error surfaces before we start merging, per spec.md §4.1 step 2.
func decodeAll(data []byte) ([]map[string]interface{}, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var docs []map[string]interface{}
	for {
		var raw map[string]interface{}
		err := dec.Decode(&raw)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, raw)
	}
	return docs, nil
}

// mergeAndValidate walks the raw document sequence, applying the
// inherit/override merge rules, normalizing, and schema-validating each
// resulting suite in turn.
func mergeAndValidate(raws []map[string]interface{}) ([]CanonicalSuite, error) {
	var (
		out      []CanonicalSuite
		merged   map[string]interface{}
		contexts = map[string]bool{}
		metReq   bool
	)

	for idx, raw := range raws {
		if raw == nil {
			return nil, schemaViolation("failed to parse %s testsuite: top-level type should be a dict", ordinal(idx+1))
		}

		next, err := mergeOne(idx, merged, raw)
		if err != nil {
			return nil, schemaViolation("failed to parse %s testsuite: %s", ordinal(idx+1), err.(*Error).Msg)
		}

		if err := validateSchema(next); err != nil {
			return nil, schemaViolation("failed to parse %s testsuite: %s", ordinal(idx+1), err.(*Error).Msg)
		}

		ctx := next["context"].(string)
		if contexts[ctx] {
			return nil, schemaViolation("failed to parse %s testsuite: duplicate 'context' value detected", ordinal(idx+1))
		}
		contexts[ctx] = true

		if req, _ := next["required"].(bool); req {
			metReq = true
		}

		merged = next
		out = append(out, CanonicalSuite{raw: next})
	}

	// The reserved-"required"-context check is applied as a deterministic
	// post-pass over the whole sequence rather than suite-by-suite (see
	// design note in SPEC_FULL.md §10): any suite literally named
	// "required" is rejected if *any* suite in the document set turns on
	// 'required: true'.
	if metReq {
		for i, s := range out {
			if s.Context() == "required" {
				return nil, schemaViolation("failed to parse %s testsuite: context \"required\" forbidden when using the 'required' key", ordinal(i+1))
			}
		}
	}

	return out, nil
}

// mergeOne merges raw (the i'th raw document) on top of base (the previous
// merged+normalized suite, or nil for the first document).
func mergeOne(idx int, base map[string]interface{}, raw map[string]interface{}) (map[string]interface{}, error) {
	newDoc := cloneMap(raw)

	if idx == 0 {
		if _, ok := newDoc["context"]; !ok {
			newDoc["context"] = defaultContext
		}
	}

	if v, ok := newDoc["inherit"]; ok {
		if _, isBool := v.(bool); !isBool {
			return nil, schemaViolation("expected 'bool' value for 'inherit' key")
		}
	}

	inherit, _ := newDoc["inherit"].(bool)
	if base == nil || !inherit {
		return normalize(newDoc), nil
	}

	merged := cloneMap(base)

	hasSelector := false
	for _, k := range envSelectorKeys {
		if _, ok := newDoc[k]; ok {
			hasSelector = true
			break
		}
	}
	if hasSelector {
		for _, k := range envSelectorKeys {
			delete(merged, k)
		}
	}

	// context is never inherited; the new document must supply its own.
	delete(merged, "context")

	for k, v := range newDoc {
		merged[k] = v
	}

	return normalize(merged), nil
}

// normalize strips the 'inherit' key and any key whose value is explicitly
// null, matching the original parser's _normalize step.
func normalize(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k == "inherit" || v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
