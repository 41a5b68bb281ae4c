// Package sshfetch collects files from remote hosts over SSH.
//
// The observable value is "hostname@/path/to/file". The collected file is
// written into the owning alert's storage directory.
package sshfetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"filecollect/internal/collection"
	"filecollect/internal/config"
)

const Driver = "ssh"

type Backend struct {
	name           string
	observableType string
	logger         *zap.Logger

	user           string
	port           string
	password       string
	privateKeyPath string
	dialTimeout    time.Duration
}

// New builds the backend from its settings map:
// user, port (default 22), password, private_key_path, dial_timeout.
func New(cfg config.BackendConfig, logger *zap.Logger) (collection.Backend, error) {
	b := &Backend{
		name:           cfg.Name,
		observableType: cfg.ObservableType,
		logger:         logger,
		user:           cfg.Settings["user"],
		port:           cfg.Settings["port"],
		password:       cfg.Settings["password"],
		privateKeyPath: cfg.Settings["private_key_path"],
		dialTimeout:    10 * time.Second,
	}
	if b.user == "" {
		return nil, fmt.Errorf("ssh backend %q: setting \"user\" is required", cfg.Name)
	}
	if b.port == "" {
		b.port = "22"
	}
	if raw := cfg.Settings["dial_timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("ssh backend %q: invalid dial_timeout: %w", cfg.Name, err)
		}
		b.dialTimeout = d
	}
	if b.password == "" && b.privateKeyPath == "" {
		return nil, fmt.Errorf("ssh backend %q: need \"password\" or \"private_key_path\"", cfg.Name)
	}
	return b, nil
}

func (b *Backend) Name() string           { return b.name }
func (b *Backend) ObservableType() string { return b.observableType }

func (b *Backend) ShouldRetry(result collection.Result, attempts, maxRetries int) bool {
	return collection.DefaultShouldRetry(result, attempts, maxRetries)
}

func (b *Backend) Collect(ctx context.Context, item collection.WorkItem) (collection.Result, error) {
	host, remotePath, err := collection.SplitFileLocation(item.Value)
	if err != nil {
		// Malformed observables cannot succeed on retry.
		return collection.Result{
			Status:  collection.AttemptFailed,
			Message: err.Error(),
		}, nil
	}

	clientCfg, err := b.clientConfig()
	if err != nil {
		return collection.Result{}, err
	}

	client, err := b.dial(ctx, host, clientCfg)
	if err != nil {
		return collection.Result{
			Status:  collection.AttemptHostOffline,
			Message: fmt.Sprintf("ssh dial %s: %v", host, err),
		}, nil
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return collection.Result{
			Status:  collection.AttemptError,
			Message: fmt.Sprintf("ssh session: %v", err),
		}, nil
	}
	defer func() { _ = session.Close() }()

	var stderr strings.Builder
	session.Stderr = &stderr
	data, err := session.Output(fmt.Sprintf("cat %s", shellQuote(remotePath)))
	if err != nil {
		return classifyExecFailure(err, stderr.String()), nil
	}

	localPath, sum, err := b.store(item, remotePath, data)
	if err != nil {
		return collection.Result{}, err
	}

	b.logger.Info("fetched remote file",
		zap.String("host", host),
		zap.String("remote_path", remotePath),
		zap.String("local_path", localPath),
		zap.Int("size", len(data)),
	)
	return collection.Result{
		Status:              collection.AttemptSuccess,
		Message:             fmt.Sprintf("collected %d bytes from %s", len(data), host),
		CollectedFilePath:   localPath,
		CollectedFileSHA256: sum,
	}, nil
}

func (b *Backend) clientConfig() (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User:            b.user,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         b.dialTimeout,
	}
	if b.privateKeyPath != "" {
		key, err := os.ReadFile(b.privateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	}
	if b.password != "" {
		cfg.Auth = append(cfg.Auth, ssh.Password(b.password))
	}
	return cfg, nil
}

func (b *Backend) dial(ctx context.Context, host string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	address := net.JoinHostPort(host, b.port)
	dialer := net.Dialer{Timeout: b.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (b *Backend) store(item collection.WorkItem, remotePath string, data []byte) (string, string, error) {
	dir := filepath.Join(item.StorageDir, "collected")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", fmt.Errorf("create storage dir: %w", err)
	}
	localPath := filepath.Join(dir, fmt.Sprintf("%d_%s", item.ID, filepath.Base(remotePath)))
	if err := os.WriteFile(localPath, data, 0o640); err != nil {
		return "", "", fmt.Errorf("write collected file: %w", err)
	}
	sum := sha256.Sum256(data)
	return localPath, hex.EncodeToString(sum[:]), nil
}

// classifyExecFailure maps a remote cat failure onto an attempt status using
// the stderr text: a missing file is final, anything else may be transient.
func classifyExecFailure(err error, stderr string) collection.Result {
	if strings.Contains(stderr, "No such file or directory") {
		return collection.Result{
			Status:  collection.AttemptFileNotFound,
			Message: strings.TrimSpace(stderr),
		}
	}
	if strings.Contains(stderr, "Permission denied") {
		return collection.Result{
			Status:  collection.AttemptFailed,
			Message: strings.TrimSpace(stderr),
		}
	}
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	return collection.Result{
		Status:  collection.AttemptError,
		Message: msg,
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
