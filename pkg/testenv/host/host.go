// Package host implements a testenv.TestEnv backed by an OpenStack Nova
// instance reached over SSH, grounded on papr's original nova.py backend:
// boot a server from the requested distro's image/flavor, wait for an SSH
// session, and drive commands over a PTY-backed exec channel so stdout and
// stderr interleave the same way they do in the container backend.
package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/floatingips"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/images"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/projectatomic/papr/pkg/testenv"
)

// AuthConfig carries the OpenStack credentials for the host backend.
// package revision authenticates one Client per suite from it; all the
// hosts of a cluster suite share that suite's Client, but separate suites
// each authenticate on their own.
type AuthConfig struct {
	AuthURL    string
	Username   string
	Password   string
	TenantName string
}

// Client wraps an authenticated compute client plus the SSH private key
// used to reach booted instances.
type Client struct {
	mu      sync.Mutex
	compute *gophercloud.ServiceClient
	privKey []byte
}

// NewClient authenticates against OpenStack identity and returns a
// compute v2 client, mirroring nova.py's module-level NOVA singleton
// guarded by NOVA_LOCK.
func NewClient(auth AuthConfig, privKey []byte) (*Client, error) {
	provider, err := openstack.AuthenticatedClient(gophercloud.AuthOptions{
		IdentityEndpoint: auth.AuthURL,
		Username:         auth.Username,
		Password:         auth.Password,
		TenantName:       auth.TenantName,
	})
	if err != nil {
		return nil, errors.Wrap(err, "authenticating with openstack")
	}
	compute, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, errors.Wrap(err, "creating compute client")
	}
	return &Client{compute: compute, privKey: privKey}, nil
}

// Spec describes the host environment a suite declared.
type Spec struct {
	Name          string
	Distro        string
	MinRAM        int
	MinCPUs       int
	MinDisk       int
	MinSecondary  int
	OstreeRemote  string
	OstreeBranch  string
	OstreeRev     string
	WantsOstree   bool
	FlavorNameRef string
}

// Env is a testenv.TestEnv backed by a single Nova instance.
type Env struct {
	client     *Client
	spec       Spec
	log        *logrus.Entry
	server     *servers.Server
	floatingIP *floatingips.FloatingIP
	sshClient  *ssh.Client
	ip         string
}

func New(client *Client, spec Spec, log *logrus.Entry) *Env {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Env{client: client, spec: spec, log: log}
}

func (e *Env) Provision(ctx context.Context) error {
	img, err := e.findImage(ctx)
	if err != nil {
		return &testenv.UserFacingProvisionError{Message: "could not find a matching image for distro " + e.spec.Distro, Cause: err}
	}
	flavor, err := e.bestFlavor(ctx)
	if err != nil {
		return &testenv.UserFacingProvisionError{Message: "no flavor satisfies the requested host specs", Cause: err}
	}

	e.client.mu.Lock()
	srv, err := servers.Create(e.client.compute, servers.CreateOpts{
		Name:      uniqueName(e.spec.Name),
		ImageRef:  img,
		FlavorRef: flavor,
	}).Extract()
	e.client.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "creating server")
	}
	e.server = srv

	if err := servers.WaitForStatus(ctx, e.client.compute, srv.ID, "ACTIVE"); err != nil {
		return errors.Wrap(err, "waiting for server to become active")
	}

	ip, err := e.attachFloatingIP(ctx)
	if err != nil {
		return errors.Wrap(err, "attaching floating ip")
	}
	e.ip = ip

	if err := e.dialSSH(ctx); err != nil {
		return errors.Wrap(err, "establishing ssh session")
	}

	if e.spec.WantsOstree {
		onAtomic, err := e.onAtomicHost(ctx)
		if err != nil {
			return err
		}
		if !onAtomic {
			return &testenv.UserFacingProvisionError{Message: "can't specify 'ostree' on a non-ostree host"}
		}
		if err := e.rebaseOstree(ctx); err != nil {
			return &testenv.UserFacingProvisionError{Message: "failed to rebase to requested ostree ref", Cause: err}
		}
	}
	return nil
}

func (e *Env) Teardown(ctx context.Context) error {
	if e.sshClient != nil {
		e.sshClient.Close()
		e.sshClient = nil
	}
	if e.floatingIP != nil && e.server != nil {
		_ = floatingips.DisassociateInstance(e.client.compute, e.server.ID, floatingips.DisassociateOpts{
			FloatingIP: e.floatingIP.IP,
		})
		_ = floatingips.Delete(e.client.compute, e.floatingIP.ID)
		e.floatingIP = nil
	}
	if e.server != nil {
		err := servers.Delete(e.client.compute, e.server.ID).ExtractErr()
		var notFound gophercloud.ErrDefault404
		if err != nil && !errors.As(err, &notFound) {
			return errors.Wrapf(err, "deleting server %s", e.server.ID)
		}
		e.server = nil
	}
	return nil
}

func (e *Env) RunCmd(ctx context.Context, cmd []string, timeout time.Duration) (testenv.CmdResult, error) {
	start := time.Now()
	session, err := e.sshClient.NewSession()
	if err != nil {
		return testenv.CmdResult{}, errors.Wrap(err, "opening ssh session")
	}
	defer session.Close()

	var buf bytes.Buffer
	session.Stdout = &buf
	session.Stderr = &buf

	if err := session.RequestPty("xterm", 80, 40, ssh.TerminalModes{}); err != nil {
		return testenv.CmdResult{}, errors.Wrap(err, "requesting pty")
	}

	line := joinShellWords(cmd)
	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(line) }()

	var timedOut bool
	var runErr error
	select {
	case runErr = <-errCh:
	case <-time.After(timeout):
		timedOut = true
		_ = session.Signal(ssh.SIGKILL)
		e.log.Debugf("left an ssh session running (%v)", cmd)
	}

	duration := time.Since(start)
	if timedOut {
		return testenv.CmdResult{Rc: nil, Output: io.NopCloser(&buf), Duration: duration}, nil
	}

	rc := 0
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		rc = exitErr.ExitStatus()
	} else if runErr != nil {
		return testenv.CmdResult{}, errors.Wrap(runErr, "running command")
	}
	return testenv.CmdResult{Rc: &rc, Output: io.NopCloser(&buf), Duration: duration}, nil
}

func (e *Env) RunCheckedCmd(ctx context.Context, cmd []string, timeout time.Duration) ([]byte, error) {
	r, err := e.RunCmd(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	out, _ := io.ReadAll(r.Output)
	if r.TimedOut() {
		return nil, errors.Errorf("command %v timed out", cmd)
	}
	if *r.Rc != 0 {
		return nil, errors.Errorf("command %v exited with rc=%d: %s", cmd, *r.Rc, out)
	}
	return out, nil
}

// CopyTo rsyncs a local path into the instance. papr switched from
// piping through tar to rsync because its semantics already match
// `docker cp`'s directory-vs-contents handling.
func (e *Env) CopyTo(ctx context.Context, src, dest string) error {
	rsyncDest := fmt.Sprintf("root@%s:%s", e.ip, dest)
	return e.rsync(ctx, src, rsyncDest)
}

func (e *Env) CopyFrom(ctx context.Context, src, dest string, allowMissing bool) (bool, error) {
	r, err := e.RunCmd(ctx, []string{"test", "-e", src}, 30*time.Second)
	if err != nil {
		return false, err
	}
	if r.Rc == nil || *r.Rc != 0 {
		if allowMissing {
			return false, nil
		}
		return false, errors.Errorf("src not found on host: %s", src)
	}
	rsyncSrc := fmt.Sprintf("root@%s:%s", e.ip, src)
	if err := e.rsync(ctx, rsyncSrc, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Env) rsync(ctx context.Context, src, dest string) error {
	cmd := exec.CommandContext(ctx, "rsync", "-az", "--no-owner", "--no-group", "--rsh",
		"ssh -o StrictHostKeyChecking=no -o PasswordAuthentication=no -o UserKnownHostsFile=/dev/null",
		src, dest)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "rsync %s -> %s: %s", src, dest, out)
	}
	return nil
}

func (e *Env) dialSSH(ctx context.Context) error {
	signer, err := ssh.ParsePrivateKey(e.client.privKey)
	if err != nil {
		return errors.Wrap(err, "parsing ssh private key")
	}
	cfg := &ssh.ClientConfig{
		User:            "root",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}

	deadline := time.Now().Add(2 * time.Minute)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(e.ip, "22"), 5*time.Second)
		if err == nil {
			conn.Close()
			cli, err := ssh.Dial("tcp", net.JoinHostPort(e.ip, "22"), cfg)
			if err == nil {
				e.sshClient = cli
				return nil
			}
			lastErr = err
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return errors.Wrap(lastErr, "timed out waiting for ssh")
}

func (e *Env) findImage(ctx context.Context) (string, error) {
	pages, err := images.ListDetail(e.client.compute, images.ListOpts{Name: e.spec.Distro}).AllPages(ctx)
	if err != nil {
		return "", err
	}
	list, err := images.ExtractImages(pages)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", errors.Errorf("no image matches distro %q", e.spec.Distro)
	}
	return list[0].ID, nil
}

func (e *Env) bestFlavor(ctx context.Context) (string, error) {
	pages, err := flavors.ListDetail(e.client.compute, flavors.ListOpts{MinRAM: e.spec.MinRAM, MinDisk: e.spec.MinDisk}).AllPages(ctx)
	if err != nil {
		return "", err
	}
	list, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return "", err
	}
	var best *flavors.Flavor
	for i := range list {
		f := &list[i]
		if f.VCPUs < e.spec.MinCPUs {
			continue
		}
		if best == nil || f.RAM < best.RAM {
			best = f
		}
	}
	if best == nil {
		return "", errors.Errorf("no flavor satisfies ram>=%d cpus>=%d disk>=%d", e.spec.MinRAM, e.spec.MinCPUs, e.spec.MinDisk)
	}
	return best.ID, nil
}

func (e *Env) attachFloatingIP(ctx context.Context) (string, error) {
	fip, err := floatingips.Create(e.client.compute, floatingips.CreateOpts{}).Extract()
	if err != nil {
		return "", err
	}
	e.floatingIP = fip
	if err := floatingips.AssociateInstance(e.client.compute, e.server.ID, floatingips.AssociateOpts{
		FloatingIP: fip.IP,
	}).ExtractErr(); err != nil {
		return "", err
	}
	return fip.IP, nil
}

func (e *Env) onAtomicHost(ctx context.Context) (bool, error) {
	r, err := e.RunCmd(ctx, []string{"test", "-x", "/usr/bin/rpm-ostree"}, 15*time.Second)
	if err != nil {
		return false, err
	}
	return r.Rc != nil && *r.Rc == 0, nil
}

func (e *Env) rebaseOstree(ctx context.Context) error {
	ref := e.spec.OstreeRemote + ":" + e.spec.OstreeBranch
	cmd := []string{"rpm-ostree", "rebase", ref}
	if e.spec.OstreeRev != "" {
		cmd = append(cmd, e.spec.OstreeRev)
	}
	_, err := e.RunCheckedCmd(ctx, cmd, 10*time.Minute)
	return err
}

func uniqueName(prefix string) string {
	if prefix == "" {
		prefix = "papr"
	}
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func joinShellWords(words []string) string {
	var buf bytes.Buffer
	for i, w := range words {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(w)
	}
	return buf.String()
}
