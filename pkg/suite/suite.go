package suite

// CanonicalSuite wraps a merged, normalized, schema-validated suite map
// with typed accessors. It intentionally keeps the underlying
// representation as a map rather than a rigid struct: the merge step
// operates key-wise on an open document before the schema narrows it,
// and round-tripping (flush.go) needs the original shape.
type CanonicalSuite struct {
	raw map[string]interface{}
}

// Context returns the suite's unique identity / forge status context.
func (s CanonicalSuite) Context() string {
	return s.raw["context"].(string)
}

// EnvKind enumerates the exclusive environment selector a suite declares.
type EnvKind int

const (
	EnvContainer EnvKind = iota
	EnvHost
	EnvCluster
)

func (k EnvKind) String() string {
	switch k {
	case EnvContainer:
		return "container"
	case EnvHost:
		return "host"
	case EnvCluster:
		return "cluster"
	default:
		return "unknown"
	}
}

// EnvSpec returns the kind of test environment this suite needs and the
// raw spec map for it (the value of the 'container'/'host'/'cluster' key).
func (s CanonicalSuite) EnvSpec() (EnvKind, map[string]interface{}) {
	if v, ok := s.raw["container"]; ok {
		return EnvContainer, v.(map[string]interface{})
	}
	if v, ok := s.raw["host"]; ok {
		return EnvHost, v.(map[string]interface{})
	}
	if v, ok := s.raw["cluster"]; ok {
		return EnvCluster, v.(map[string]interface{})
	}
	panic("suite: no env selector present on a validated CanonicalSuite")
}

// Branches returns the branches this suite is eligible for, defaulting to
// ["master"] when unset.
func (s CanonicalSuite) Branches() []string {
	if v, ok := s.raw["branches"]; ok {
		out, _ := stringList(v)
		return out
	}
	return []string{"master"}
}

// RunsOnPulls reports whether this suite should run for pull requests.
// Defaults to true when the 'pulls' key is absent.
func (s CanonicalSuite) RunsOnPulls() bool {
	if v, ok := s.raw["pulls"]; ok {
		return v.(bool)
	}
	return true
}

// Required reports whether this suite participates in the aggregate
// "required" status.
func (s CanonicalSuite) Required() bool {
	v, _ := s.raw["required"].(bool)
	return v
}

// TimeoutSeconds returns the suite's command budget in seconds, defaulting
// to 2h when unset.
func (s CanonicalSuite) TimeoutSeconds() int {
	if v, ok := s.raw["timeout"].(string); ok {
		secs, _ := timeoutSeconds(v)
		return secs
	}
	secs, _ := timeoutSeconds("2h")
	return secs
}

// Tests returns the ordered list of user test commands, or nil if none.
func (s CanonicalSuite) Tests() []string {
	if v, ok := s.raw["tests"]; ok {
		out, _ := stringList(v)
		return out
	}
	return nil
}

// UsesBuildAPI reports whether the suite declares a 'build' directive.
func (s CanonicalSuite) UsesBuildAPI() bool {
	_, ok := s.raw["build"]
	return ok
}

// BuildOpts returns the configure/build/install option strings for the
// synthesized build-API command sequence.
func (s CanonicalSuite) BuildOpts() (configOpts, buildOpts, installOpts string) {
	v, ok := s.raw["build"]
	if !ok {
		return "", "", ""
	}
	if m, ok := v.(map[string]interface{}); ok {
		configOpts, _ = m["config-opts"].(string)
		buildOpts, _ = m["build-opts"].(string)
		installOpts, _ = m["install-opts"].(string)
	}
	return configOpts, buildOpts, installOpts
}

// EnvVars returns the suite's user-declared environment variables.
func (s CanonicalSuite) EnvVars() map[string]string {
	out := map[string]string{}
	if v, ok := s.raw["env"]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			for k, val := range m {
				out[k] = toString(val)
			}
		}
	}
	return out
}

// Artifacts returns the repo-relative artifact paths to collect.
func (s CanonicalSuite) Artifacts() []string {
	if v, ok := s.raw["artifacts"]; ok {
		out, _ := stringList(v)
		return out
	}
	return nil
}

// Packages returns the packages requested via the 'packages' key.
func (s CanonicalSuite) Packages() []string {
	if v, ok := s.raw["packages"]; ok {
		out, _ := stringList(v)
		return out
	}
	return nil
}

// ExtraRepos returns the raw extra-repos entries (name + arbitrary keys).
func (s CanonicalSuite) ExtraRepos() []map[string]interface{} {
	v, ok := s.raw["extra-repos"]
	if !ok {
		return nil
	}
	list := v.([]interface{})
	out := make([]map[string]interface{}, 0, len(list))
	for _, e := range list {
		out = append(out, e.(map[string]interface{}))
	}
	return out
}

// Raw exposes the underlying normalized map, primarily for flush.go.
func (s CanonicalSuite) Raw() map[string]interface{} {
	return s.raw
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
