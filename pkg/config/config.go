// Package config loads the site configuration file and builds the
// shared, read-only-after-init handles (publisher, forge client,
// backend factories, cache dir) a run needs. Unlike papr's original
// site.py, none of this is stored in package-level globals: a Site is
// built once by the CLI entry point and threaded through explicitly.
package config

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/projectatomic/papr/pkg/forge"
	"github.com/projectatomic/papr/pkg/publish"
	"github.com/projectatomic/papr/pkg/publish/local"
	"github.com/projectatomic/papr/pkg/publish/s3"
	"github.com/projectatomic/papr/pkg/testenv/host"
)

const defaultCacheDir = "/var/cache/papr"

// BackendConfig is the raw per-backend section of the site file.
type BackendConfig struct {
	Type   string
	Config map[string]interface{}
}

// Site is the fully-resolved runtime configuration for one papr
// invocation: a publisher, a forge client, per-backend-kind factories,
// and the local checkout cache directory.
type Site struct {
	Publisher publish.Publisher
	Forge     forge.Client
	CacheDir  string

	ContainerBackend *BackendConfig
	HostBackend      *BackendConfig

	HostAuth *host.AuthConfig
	HostKey  []byte

	Log *logrus.Entry
}

// Load reads path (a YAML site config) via viper, binds the recognized
// environment variables, and builds every handle in Site. repo is
// "owner/name", used both for the forge client and to namespace
// publish keys.
func Load(path, repo string, log *logrus.Entry) (*Site, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading site config %q", path)
	}

	site := &Site{Log: log}

	cacheDir := v.GetString("cachedir")
	if cacheDir == "" {
		cacheDir = defaultCacheDir
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating cache dir %q", cacheDir)
	}
	site.CacheDir = cacheDir

	pub, err := buildPublisher(v)
	if err != nil {
		return nil, err
	}
	site.Publisher = pub

	site.Forge = buildForge(v, repo, log)

	if v.IsSet("backends.container") {
		site.ContainerBackend = &BackendConfig{
			Type:   v.GetString("backends.container.type"),
			Config: v.GetStringMap("backends.container.config"),
		}
	}
	if v.IsSet("backends.host") {
		site.HostBackend = &BackendConfig{
			Type:   v.GetString("backends.host.type"),
			Config: v.GetStringMap("backends.host.config"),
		}
		auth, key, err := buildHostAuth(v)
		if err != nil {
			return nil, err
		}
		site.HostAuth = auth
		site.HostKey = key
	}

	return site, nil
}

func buildPublisher(v *viper.Viper) (publish.Publisher, error) {
	switch t := v.GetString("publisher.type"); t {
	case "local":
		root := v.GetString("publisher.config.rootdir")
		if root == "" {
			return nil, errors.New("publisher.config.rootdir is required for the local publisher")
		}
		return local.New(root), nil
	case "s3":
		bucket := v.GetString("publisher.config.bucket")
		if bucket == "" {
			return nil, errors.New("publisher.config.bucket is required for the s3 publisher")
		}
		root := v.GetString("publisher.config.rootdir")

		var opts []func(*config.LoadOptions) error
		if !v.GetBool("publisher.config.auth-from-env") {
			keyID := v.GetString("publisher.config.auth-key-id")
			secret := v.GetString("publisher.config.auth-secret-key")
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(keyID, secret, "")))
		}
		awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			return nil, errors.Wrap(err, "loading aws config")
		}
		return s3.New(awss3.NewFromConfig(awsCfg), bucket, root), nil
	default:
		return nil, errors.Errorf("unknown publisher type: %q", t)
	}
}

func buildForge(v *viper.Viper, repo string, log *logrus.Entry) forge.Client {
	token := ""
	if v.GetBool("github.auth-from-env") {
		token = os.Getenv("GITHUB_TOKEN")
	} else {
		token = v.GetString("github.auth-token")
	}
	return forge.NewGitHubClient(repo, token, log)
}

func buildHostAuth(v *viper.Viper) (*host.AuthConfig, []byte, error) {
	const prefix = "backends.host.config."
	var auth host.AuthConfig
	if v.GetBool(prefix + "auth-from-env") {
		auth = host.AuthConfig{
			AuthURL:    os.Getenv("OS_AUTH_URL"),
			Username:   os.Getenv("OS_USERNAME"),
			Password:   os.Getenv("OS_PASSWORD"),
			TenantName: os.Getenv("OS_TENANT_NAME"),
		}
	} else {
		auth = host.AuthConfig{
			AuthURL:    v.GetString(prefix + "auth-url"),
			Username:   v.GetString(prefix + "auth-username"),
			Password:   v.GetString(prefix + "auth-password"),
			TenantName: v.GetString(prefix + "auth-tenant"),
		}
	}

	keyPath := v.GetString(prefix + "privkey")
	var key []byte
	if keyPath != "" {
		var err error
		key, err = os.ReadFile(keyPath)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading host backend private key %q", keyPath)
		}
	}
	return &auth, key, nil
}
