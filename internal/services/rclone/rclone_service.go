// -----------------------------------------------------------------------
// Copy engine adapter
//
// Wraps the rclone binary: endpoints are registered as named remotes in
// a generated config file, paths are rendered as remote URLs, and
// listings and copies run as subprocesses.
// -----------------------------------------------------------------------

package rclone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/models"
)

// Service implements interfaces.CopyEngine on top of the rclone binary
type Service struct {
	binary        string
	configFile    string
	bwLimit       string
	statsInterval string
	logger        arbor.ILogger

	mu      sync.Mutex
	remotes map[string]*remoteEntry
}

// remoteEntry captures what BuildPath needs about a configured endpoint
type remoteEntry struct {
	kind     models.EndpointType
	basePath string            // local base path, s3 bucket, or smb share
	section  map[string]string // rendered config section, nil for local
}

// NewService creates the engine adapter from configuration
func NewService(config *common.EngineConfig, logger arbor.ILogger) *Service {
	binary := config.Binary
	if binary == "" {
		binary = "rclone"
	}
	statsInterval := config.StatsInterval
	if statsInterval == "" {
		statsInterval = "1s"
	}

	return &Service{
		binary:        binary,
		configFile:    config.ConfigFile,
		bwLimit:       config.BandwidthLimit,
		statsInterval: statsInterval,
		logger:        logger,
		remotes:       make(map[string]*remoteEntry),
	}
}

// remoteNameRe strips characters rclone does not accept in remote names
var remoteNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// RemoteName derives the engine remote name for an endpoint
func RemoteName(endpoint *models.Endpoint) string {
	name := remoteNameRe.ReplaceAllString(endpoint.Name, "_")
	return strings.Trim(name, "_")
}

// Configure registers an endpoint as a named remote and rewrites the
// engine config file. Local endpoints get no config section; their base
// path only affects URL building.
func (s *Service) Configure(ctx context.Context, endpoint *models.Endpoint) (string, error) {
	name := RemoteName(endpoint)
	if name == "" {
		return "", fmt.Errorf("endpoint %q yields an empty remote name", endpoint.Name)
	}

	entry, err := s.buildRemoteEntry(ctx, endpoint)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.remotes[name] = entry
	err = s.writeConfigFileLocked()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("remote", name).
		Str("type", string(endpoint.Type)).
		Msg("Endpoint configured as engine remote")
	return name, nil
}

func (s *Service) buildRemoteEntry(ctx context.Context, endpoint *models.Endpoint) (*remoteEntry, error) {
	cfg := endpoint.Config

	switch endpoint.Type {
	case models.EndpointTypeLocal:
		return &remoteEntry{kind: endpoint.Type, basePath: cfg.Path}, nil

	case models.EndpointTypeS3:
		section := map[string]string{
			"type":              "s3",
			"provider":          "AWS",
			"access_key_id":     cfg.AccessKey,
			"secret_access_key": cfg.SecretKey,
		}
		if cfg.Region != "" {
			section["region"] = cfg.Region
		}
		// The bucket lives in the path, not the remote definition
		return &remoteEntry{kind: endpoint.Type, basePath: cfg.Bucket, section: section}, nil

	case models.EndpointTypeSMB:
		obscured, err := s.Obscure(ctx, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to obscure smb password for %s: %w", endpoint.Name, err)
		}
		domain := cfg.Domain
		if domain == "" {
			domain = "WORKGROUP"
		}
		section := map[string]string{
			"type":   "smb",
			"host":   cfg.Host,
			"user":   cfg.User,
			"pass":   obscured,
			"domain": domain,
		}
		// The share lives in the path, like the s3 bucket
		return &remoteEntry{kind: endpoint.Type, basePath: cfg.Share, section: section}, nil

	case models.EndpointTypeSFTP:
		section := map[string]string{
			"type": "sftp",
			"host": cfg.Host,
			"user": cfg.User,
		}
		if cfg.Port > 0 {
			section["port"] = fmt.Sprintf("%d", cfg.Port)
		} else {
			section["port"] = "22"
		}
		if cfg.KeyFile != "" {
			section["key_file"] = cfg.KeyFile
			if cfg.KeyPassphrase != "" {
				obscured, err := s.Obscure(ctx, cfg.KeyPassphrase)
				if err != nil {
					return nil, fmt.Errorf("failed to obscure sftp passphrase for %s: %w", endpoint.Name, err)
				}
				section["key_pem_password"] = obscured
			}
		} else {
			obscured, err := s.Obscure(ctx, cfg.Password)
			if err != nil {
				return nil, fmt.Errorf("failed to obscure sftp password for %s: %w", endpoint.Name, err)
			}
			section["pass"] = obscured
		}
		if cfg.KnownHostsFile != "" {
			section["known_hosts_file"] = cfg.KnownHostsFile
		}
		return &remoteEntry{kind: endpoint.Type, section: section}, nil

	case models.EndpointTypeFTP:
		obscured, err := s.Obscure(ctx, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to obscure ftp password for %s: %w", endpoint.Name, err)
		}
		section := map[string]string{
			"type": "ftp",
			"host": cfg.Host,
			"user": cfg.User,
			"pass": obscured,
		}
		if cfg.Port > 0 {
			section["port"] = fmt.Sprintf("%d", cfg.Port)
		}
		return &remoteEntry{kind: endpoint.Type, section: section}, nil

	case models.EndpointTypeWebDAV:
		obscured, err := s.Obscure(ctx, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to obscure webdav password for %s: %w", endpoint.Name, err)
		}
		section := map[string]string{
			"type": "webdav",
			"url":  cfg.URL,
			"user": cfg.User,
			"pass": obscured,
		}
		return &remoteEntry{kind: endpoint.Type, section: section}, nil

	default:
		return nil, fmt.Errorf("unsupported endpoint type %q", endpoint.Type)
	}
}

// BuildPath renders an endpoint-relative path as an engine URL. The
// endpoint must have been configured first.
func (s *Service) BuildPath(endpointName string, p string) (string, error) {
	s.mu.Lock()
	entry, ok := s.remotes[endpointName]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("remote %q is not configured", endpointName)
	}

	switch entry.kind {
	case models.EndpointTypeLocal:
		if entry.basePath == "" || path.IsAbs(p) {
			return p, nil
		}
		return path.Join(entry.basePath, p), nil

	case models.EndpointTypeS3, models.EndpointTypeSMB:
		// bucket (or share) comes from the endpoint, the key from the job
		key := strings.TrimPrefix(p, "/")
		if key == "" {
			return fmt.Sprintf("%s:%s", endpointName, entry.basePath), nil
		}
		return fmt.Sprintf("%s:%s/%s", endpointName, entry.basePath, key), nil

	default:
		// sftp and friends: absolute paths keep their slash, relative
		// paths resolve against the remote's default directory
		return fmt.Sprintf("%s:%s", endpointName, p), nil
	}
}

// lsjsonEntry matches rclone's lsjson output records
type lsjsonEntry struct {
	Path    string    `json:"Path"`
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

// ListFiles lists files under a path filtered by a glob pattern.
// Directories are excluded; an empty listing is not an error.
func (s *Service) ListFiles(ctx context.Context, endpointName string, dir string, pattern string) ([]models.FileInfo, error) {
	target, err := s.BuildPath(endpointName, dir)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*"
	}

	args := []string{"lsjson", "--include", pattern, target}
	if s.configFile != "" {
		args = append([]string{"--config", s.configFile}, args...)
	}

	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("engine listing of %s failed: %s: %w", target, lastLines(stderr.String(), 10), err)
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	if len(raw) == 0 {
		return nil, nil
	}

	var entries []lsjsonEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse engine listing of %s: %w", target, err)
	}

	files := make([]models.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		files = append(files, models.FileInfo{
			Path:    entry.Path,
			Name:    entry.Name,
			Size:    entry.Size,
			ModTime: entry.ModTime,
			IsDir:   false,
		})
	}
	return files, nil
}

// TestEndpoint probes reachability. Local endpoints are checked on the
// filesystem; remote endpoints get a minimal listing.
func (s *Service) TestEndpoint(ctx context.Context, endpoint *models.Endpoint) error {
	if endpoint.Type == models.EndpointTypeLocal {
		base := endpoint.Config.Path
		if base == "" {
			return nil
		}
		info, err := os.Stat(base)
		if err != nil {
			return fmt.Errorf("local path %s is not reachable: %w", base, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("local path %s is not a directory", base)
		}
		return nil
	}

	name, err := s.Configure(ctx, endpoint)
	if err != nil {
		return err
	}

	target, err := s.BuildPath(name, "")
	if err != nil {
		return err
	}

	args := []string{"lsjson", "--max-depth", "1", target}
	if s.configFile != "" {
		args = append([]string{"--config", s.configFile}, args...)
	}

	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("endpoint %s is not reachable: %s: %w", endpoint.Name, lastLines(stderr.String(), 10), err)
	}
	return nil
}

// Obscure runs the engine's password obscurer
func (s *Service) Obscure(ctx context.Context, secret string) (string, error) {
	cmd := exec.CommandContext(ctx, s.binary, "obscure", secret)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("obscure failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// lastLines returns the trailing n non-empty lines of text
func lastLines(text string, n int) string {
	lines := []string{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
