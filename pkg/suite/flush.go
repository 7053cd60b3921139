package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Flush writes a CanonicalSuite out to outdir as a tree of small plain-text
// files, one fact per file. This reproduces papr/utils/parser.py's
// flush_suite, used by `papr validate --output-dir` to let operators
// inspect exactly what a suite canonicalized to.
func Flush(s CanonicalSuite, outdir string) error {
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %q", outdir)
	}

	kind, spec := s.EnvSpec()
	switch kind {
	case EnvHost:
		dir := filepath.Join(outdir, "host")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := flushHost(spec, dir); err != nil {
			return err
		}
		if err := writeFile(outdir, "envtype", "host"); err != nil {
			return err
		}
		if err := writeFile(outdir, "controller", "host"); err != nil {
			return err
		}
	case EnvContainer:
		img := spec["image"].(string)
		if err := writeFile(outdir, "image", img); err != nil {
			return err
		}
		if err := writeFile(outdir, "envtype", "container"); err != nil {
			return err
		}
		if err := writeFile(outdir, "controller", "container"); err != nil {
			return err
		}
	case EnvCluster:
		hosts := spec["hosts"].([]interface{})
		for i, h := range hosts {
			hm := h.(map[string]interface{})
			dir := filepath.Join(outdir, fmt.Sprintf("host-%d", i))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			if err := flushHost(hm, dir); err != nil {
				return err
			}
			if err := writeFile(dir, "name", hm["name"].(string)); err != nil {
				return err
			}
		}
		if err := writeFile(outdir, "nhosts", strconv.Itoa(len(hosts))); err != nil {
			return err
		}
		if c, ok := spec["container"]; ok {
			cm := c.(map[string]interface{})
			if err := writeFile(outdir, "image", cm["image"].(string)); err != nil {
				return err
			}
			if err := writeFile(outdir, "controller", "container"); err != nil {
				return err
			}
		} else {
			if err := writeFile(outdir, "controller", "host"); err != nil {
				return err
			}
		}
		if err := writeFile(outdir, "envtype", "cluster"); err != nil {
			return err
		}
	}

	if tests := s.Tests(); tests != nil {
		if err := writeFile(outdir, "tests", strings.Join(tests, "\n")); err != nil {
			return err
		}
	}

	if err := writeFile(outdir, "branches", strings.Join(s.Branches(), "\n")); err != nil {
		return err
	}

	if err := writeFile(outdir, "timeout", strconv.Itoa(s.TimeoutSeconds())); err != nil {
		return err
	}

	if err := writeFile(outdir, "context", s.Context()); err != nil {
		return err
	}

	if repos := s.ExtraRepos(); len(repos) > 0 {
		var b strings.Builder
		for _, repo := range repos {
			fmt.Fprintf(&b, "[%s]\n", repo["name"])
			for k, v := range repo {
				if k == "name" {
					continue
				}
				fmt.Fprintf(&b, "%s=%v\n", k, v)
			}
		}
		if err := writeFile(outdir, "papr-extras.repo", b.String()); err != nil {
			return err
		}
	}

	if pkgs := s.Packages(); len(pkgs) > 0 {
		quoted := make([]string, len(pkgs))
		for i, p := range pkgs {
			quoted[i] = shellQuote(p)
		}
		if err := writeFile(outdir, "packages", strings.Join(quoted, " ")); err != nil {
			return err
		}
	}

	if artifacts := s.Artifacts(); len(artifacts) > 0 {
		if err := writeFile(outdir, "artifacts", strings.Join(artifacts, "\n")); err != nil {
			return err
		}
	}

	if env := s.EnvVars(); len(env) > 0 {
		var b strings.Builder
		for k, v := range env {
			fmt.Fprintf(&b, "export %s=%q\n", k, v)
		}
		if err := writeFile(outdir, "envs", b.String()); err != nil {
			return err
		}
	}

	if s.UsesBuildAPI() {
		if err := writeFile(outdir, "build", ""); err != nil {
			return err
		}
		configOpts, buildOpts, installOpts := s.BuildOpts()
		if err := writeFile(outdir, "build.config_opts", configOpts); err != nil {
			return err
		}
		if err := writeFile(outdir, "build.build_opts", buildOpts); err != nil {
			return err
		}
		if err := writeFile(outdir, "build.install_opts", installOpts); err != nil {
			return err
		}
	}

	return nil
}

func flushHost(host map[string]interface{}, outdir string) error {
	if v, ok := host["ostree"]; ok {
		switch t := v.(type) {
		case string:
			if err := writeFile(outdir, "ostree_revision", ""); err != nil {
				return err
			}
		case map[string]interface{}:
			if err := writeFile(outdir, "ostree_remote", stringOr(t["remote"], "")); err != nil {
				return err
			}
			if err := writeFile(outdir, "ostree_branch", stringOr(t["branch"], "")); err != nil {
				return err
			}
			if err := writeFile(outdir, "ostree_revision", stringOr(t["revision"], "")); err != nil {
				return err
			}
		}
	}

	specs, _ := host["specs"].(map[string]interface{})
	if err := writeFile(outdir, "min_ram", intOr(specs, "ram", 2048)); err != nil {
		return err
	}
	if err := writeFile(outdir, "min_cpus", intOr(specs, "cpus", 1)); err != nil {
		return err
	}
	if err := writeFile(outdir, "min_disk", intOr(specs, "disk", 20)); err != nil {
		return err
	}
	if err := writeFile(outdir, "min_secondary_disk", intOr(specs, "secondary-disk", 0)); err != nil {
		return err
	}
	return writeFile(outdir, "distro", host["distro"].(string))
}

func writeFile(dir, fn, s string) error {
	return os.WriteFile(filepath.Join(dir, fn), []byte(s), 0o644)
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

func intOr(m map[string]interface{}, key string, def int) string {
	if m != nil {
		if v, ok := m[key]; ok && isInt(v) {
			return fmt.Sprintf("%v", v)
		}
	}
	return strconv.Itoa(def)
}

// shellQuote is a minimal equivalent of Python's shlex.quote, sufficient
// for package name strings which never legitimately contain single quotes.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r == '-' || r == '_' || r == '.' || r == '/' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
