package revision

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/projectatomic/papr/pkg/config"
	"github.com/projectatomic/papr/pkg/suite"
	"github.com/projectatomic/papr/pkg/testenv"
	"github.com/projectatomic/papr/pkg/testenv/cluster"
	"github.com/projectatomic/papr/pkg/testenv/container"
	"github.com/projectatomic/papr/pkg/testenv/host"
)

// buildEnv constructs the TestEnv a suite's env selector (container,
// host, or cluster) describes, wiring in the site's backend
// configuration for the backends that need one.
func buildEnv(site *config.Site, s suite.CanonicalSuite, log *logrus.Entry) (testenv.TestEnv, error) {
	kind, spec := s.EnvSpec()
	switch kind {
	case suite.EnvContainer:
		return buildContainerEnv(spec, log)
	case suite.EnvHost:
		return buildHostEnv(site, spec, log)
	case suite.EnvCluster:
		return buildClusterEnv(site, spec, log)
	default:
		return nil, errors.Errorf("unsupported env selector")
	}
}

func buildContainerEnv(spec map[string]interface{}, log *logrus.Entry) (testenv.TestEnv, error) {
	cli, err := container.NewClient()
	if err != nil {
		return nil, errors.Wrap(err, "creating docker client")
	}
	return container.New(cli, container.Spec{Image: spec["image"].(string)}, log), nil
}

func buildHostEnv(site *config.Site, spec map[string]interface{}, log *logrus.Entry) (testenv.TestEnv, error) {
	if site.HostAuth == nil {
		return nil, errors.New("suite declares a host environment but no host backend is configured")
	}
	cli, err := host.NewClient(*site.HostAuth, site.HostKey)
	if err != nil {
		return nil, errors.Wrap(err, "authenticating host backend")
	}
	return host.New(cli, hostSpecFromMap("", spec), log), nil
}

func buildClusterEnv(site *config.Site, spec map[string]interface{}, log *logrus.Entry) (testenv.TestEnv, error) {
	rawHosts, _ := spec["hosts"].([]interface{})
	if len(rawHosts) == 0 {
		return nil, errors.New("'cluster' requires a non-empty 'hosts' list")
	}
	if site.HostAuth == nil {
		return nil, errors.New("suite declares a cluster environment but no host backend is configured")
	}
	cli, err := host.NewClient(*site.HostAuth, site.HostKey)
	if err != nil {
		return nil, errors.Wrap(err, "authenticating host backend")
	}

	hosts := make([]testenv.TestEnv, 0, len(rawHosts))
	for i, raw := range rawHosts {
		hm, ok := raw.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("cluster.hosts[%d] must be a mapping", i)
		}
		name, _ := hm["name"].(string)
		hosts = append(hosts, host.New(cli, hostSpecFromMap(name, hm), log))
	}

	var controller testenv.TestEnv
	if c, ok := spec["container"]; ok {
		cm, ok := c.(map[string]interface{})
		if !ok {
			return nil, errors.New("'cluster.container' must be a mapping")
		}
		controller, err = buildContainerEnv(cm, log)
		if err != nil {
			return nil, err
		}
	}

	return &cluster.Env{Hosts: hosts, Controller: controller}, nil
}

// hostSpecFromMap translates a suite's raw 'host' mapping into
// host.Spec, applying the same defaults as pkg/suite/flush.go so the
// two views of a host suite never disagree.
func hostSpecFromMap(name string, m map[string]interface{}) host.Spec {
	distro, _ := m["distro"].(string)
	specs, _ := m["specs"].(map[string]interface{})

	spec := host.Spec{
		Name:         name,
		Distro:       distro,
		MinRAM:       intFromMap(specs, "ram", 2048),
		MinCPUs:      intFromMap(specs, "cpus", 1),
		MinDisk:      intFromMap(specs, "disk", 20),
		MinSecondary: intFromMap(specs, "secondary-disk", 0),
	}

	switch v := m["ostree"].(type) {
	case string:
		spec.WantsOstree = true
	case map[string]interface{}:
		spec.WantsOstree = true
		spec.OstreeRemote, _ = v["remote"].(string)
		spec.OstreeBranch, _ = v["branch"].(string)
		spec.OstreeRev, _ = v["revision"].(string)
	}

	return spec
}

func intFromMap(m map[string]interface{}, key string, def int) int {
	if m == nil {
		return def
	}
	v, ok := m[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
