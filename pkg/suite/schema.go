package suite

import (
	"regexp"
	"strconv"

	"github.com/hashicorp/go-version"
	"github.com/projectatomic/papr/pkg/buildinfo"
)

var timeoutRE = regexp.MustCompile(`^[0-9]+[smh]$`)

const maxTimeoutSeconds = 7200

var allowedTopLevelKeys = map[string]bool{
	"context":          true,
	"container":        true,
	"host":             true,
	"cluster":          true,
	"tests":            true,
	"build":            true,
	"branches":         true,
	"pulls":            true,
	"timeout":          true,
	"env":              true,
	"artifacts":        true,
	"required":         true,
	"extra-repos":      true,
	"packages":         true,
	"min-papr-version": true,
}

// validateSchema enforces the closed schema from spec.md §3/§4.1 step (f)
// on an already-merged, already-normalized suite map.
func validateSchema(m map[string]interface{}) error {
	for k := range m {
		if !allowedTopLevelKeys[k] {
			return schemaViolation("unknown key %q", k)
		}
	}

	ctx, ok := m["context"].(string)
	if !ok || ctx == "" {
		return schemaViolation("missing required key 'context'")
	}

	if err := validateEnvSelector(m); err != nil {
		return err
	}

	_, hasBuild := m["build"]
	tests, hasTests := m["tests"]
	if !hasBuild && !hasTests {
		return schemaViolation("suite must specify at least one of 'build' or 'tests'")
	}
	if hasTests {
		if _, err := stringList(tests); err != nil {
			return schemaViolation("'tests': %v", err)
		}
	}

	if v, ok := m["build"]; ok {
		if err := validateBuild(v); err != nil {
			return err
		}
	}

	if v, ok := m["branches"]; ok {
		if _, err := stringList(v); err != nil {
			return schemaViolation("'branches': %v", err)
		}
	}

	if v, ok := m["pulls"]; ok {
		if _, isBool := v.(bool); !isBool {
			return schemaViolation("expected 'bool' value for 'pulls' key")
		}
	}

	if v, ok := m["timeout"]; ok {
		if err := validateTimeout(v); err != nil {
			return err
		}
	}

	if v, ok := m["required"]; ok {
		if _, isBool := v.(bool); !isBool {
			return schemaViolation("expected 'bool' value for 'required' key")
		}
	}

	if v, ok := m["artifacts"]; ok {
		if _, err := stringList(v); err != nil {
			return schemaViolation("'artifacts': %v", err)
		}
	}

	if v, ok := m["packages"]; ok {
		if _, err := stringList(v); err != nil {
			return schemaViolation("'packages': %v", err)
		}
	}

	if v, ok := m["extra-repos"]; ok {
		if err := validateExtraRepos(v); err != nil {
			return err
		}
	}

	if v, ok := m["min-papr-version"]; ok {
		if err := validateMinVersion(v); err != nil {
			return err
		}
	}

	return nil
}

func validateEnvSelector(m map[string]interface{}) error {
	present := 0
	for _, k := range envSelectorKeys {
		if _, ok := m[k]; ok {
			present++
		}
	}
	if present != 1 {
		return schemaViolation("suite must specify exactly one of 'container', 'host', or 'cluster' (found %d)", present)
	}

	if v, ok := m["container"]; ok {
		return validateContainerSpec(v)
	}
	if v, ok := m["host"]; ok {
		return validateHostSpec(v)
	}
	if v, ok := m["cluster"]; ok {
		return validateClusterSpec(v)
	}
	return nil
}

func validateContainerSpec(v interface{}) error {
	c, ok := v.(map[string]interface{})
	if !ok {
		return schemaViolation("'container' must be a mapping")
	}
	if img, ok := c["image"].(string); !ok || img == "" {
		return schemaViolation("'container' requires a string 'image'")
	}
	return nil
}

func validateHostSpec(v interface{}) error {
	h, ok := v.(map[string]interface{})
	if !ok {
		return schemaViolation("'host' must be a mapping")
	}
	if d, ok := h["distro"].(string); !ok || d == "" {
		return schemaViolation("'host' requires a string 'distro'")
	}
	if specs, ok := h["specs"]; ok {
		sm, ok := specs.(map[string]interface{})
		if !ok {
			return schemaViolation("'host.specs' must be a mapping")
		}
		for _, k := range []string{"ram", "cpus", "disk", "secondary-disk"} {
			if val, ok := sm[k]; ok {
				if !isInt(val) {
					return schemaViolation("'host.specs.%s' must be an integer", k)
				}
			}
		}
	}
	if ostree, ok := h["ostree"]; ok {
		if err := validateOstree(ostree); err != nil {
			return err
		}
	}
	return nil
}

func validateOstree(v interface{}) error {
	switch t := v.(type) {
	case string:
		if t != "latest" {
			return schemaViolation("'ostree' string value must be \"latest\"")
		}
	case map[string]interface{}:
		for k := range t {
			switch k {
			case "remote", "branch", "revision":
			default:
				return schemaViolation("unknown key %q in 'ostree'", k)
			}
		}
	default:
		return schemaViolation("'ostree' must be \"latest\" or a mapping of remote/branch/revision")
	}
	return nil
}

func validateClusterSpec(v interface{}) error {
	c, ok := v.(map[string]interface{})
	if !ok {
		return schemaViolation("'cluster' must be a mapping")
	}
	hosts, ok := c["hosts"]
	if !ok {
		return schemaViolation("'cluster' requires a 'hosts' list")
	}
	hl, ok := hosts.([]interface{})
	if !ok || len(hl) == 0 {
		return schemaViolation("'cluster.hosts' must be a non-empty list")
	}
	for _, h := range hl {
		if err := validateHostSpec(h); err != nil {
			return err
		}
		hm := h.(map[string]interface{})
		if name, ok := hm["name"].(string); !ok || name == "" {
			return schemaViolation("each entry of 'cluster.hosts' requires a string 'name'")
		}
	}
	if container, ok := c["container"]; ok {
		if err := validateContainerSpec(container); err != nil {
			return err
		}
	}
	return nil
}

func validateBuild(v interface{}) error {
	switch t := v.(type) {
	case bool:
		return nil
	case map[string]interface{}:
		for k, val := range t {
			switch k {
			case "config-opts", "build-opts", "install-opts":
				if _, ok := val.(string); !ok {
					return schemaViolation("'build.%s' must be a string", k)
				}
			default:
				return schemaViolation("unknown key %q in 'build'", k)
			}
		}
		return nil
	default:
		return schemaViolation("'build' must be a bool or a mapping")
	}
}

func validateTimeout(v interface{}) error {
	s, ok := v.(string)
	if !ok || !timeoutRE.MatchString(s) {
		return schemaViolation("'timeout' must match ^[0-9]+[smh]$")
	}
	seconds, err := timeoutSeconds(s)
	if err != nil {
		return schemaViolation("'timeout': %v", err)
	}
	if seconds <= 0 || seconds > maxTimeoutSeconds {
		return schemaViolation("'timeout' must be > 0 and <= %ds, got %ds", maxTimeoutSeconds, seconds)
	}
	return nil
}

// timeoutSeconds normalizes a "<n>[smh]" timeout string to seconds,
// mirroring the original's str_to_timeout.
func timeoutSeconds(s string) (int, error) {
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, err
	}
	switch s[len(s)-1] {
	case 'm':
		n *= 60
	case 'h':
		n *= 60 * 60
	}
	return n, nil
}

func validateExtraRepos(v interface{}) error {
	list, ok := v.([]interface{})
	if !ok {
		return schemaViolation("'extra-repos' must be a list")
	}
	for _, r := range list {
		rm, ok := r.(map[string]interface{})
		if !ok {
			return schemaViolation("each entry of 'extra-repos' must be a mapping")
		}
		if name, ok := rm["name"].(string); !ok || name == "" {
			return schemaViolation("each entry of 'extra-repos' requires a string 'name'")
		}
	}
	return nil
}

func validateMinVersion(v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return schemaViolation("'min-papr-version' must be a string")
	}
	want, err := version.NewVersion(s)
	if err != nil {
		return schemaViolation("'min-papr-version': %v", err)
	}
	running, err := version.NewVersion(buildinfo.Version)
	if err != nil {
		// A Version that doesn't parse as a version (e.g. a non-semver
		// value set via -X) never blocks suites; the default "v0.1.0"
		// parses, so it is enforced against.
		return nil
	}
	if want.GreaterThan(running) {
		return schemaViolation("suite requires papr >= %s, running %s", want, running)
	}
	return nil
}

func stringList(v interface{}) ([]string, error) {
	list, ok := v.([]interface{})
	if !ok {
		return nil, errNotAList
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, errNotAList
		}
		out = append(out, s)
	}
	return out, nil
}

func isInt(v interface{}) bool {
	switch v.(type) {
	case int, int64:
		return true
	default:
		return false
	}
}

var errNotAList = schemaViolation("must be a list of strings")
