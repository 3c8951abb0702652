// Package provision turns a pending RADIUS node record into a running,
// configured cloud instance. Provisioning creates the instance;
// configuration connects over SSH and wires the node's services to the
// platform.
package provision

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/radmesh/radmesh/internal/models"
)

// Runner executes commands on a remote node. Implementations dial per
// call: nothing survives between commands, so a retried job starts clean.
type Runner interface {
	Run(ctx context.Context, node *models.RadiusServer, command string) (string, error)
}

// SSHRunner runs commands over SSH with password or private-key auth,
// whichever the node record carries.
type SSHRunner struct {
	dialTimeout time.Duration
}

// NewSSHRunner creates a runner with the given per-dial timeout.
func NewSSHRunner(dialTimeout time.Duration) *SSHRunner {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &SSHRunner{dialTimeout: dialTimeout}
}

// Run dials the node, opens one session, executes the command, and tears
// everything down. The context bounds the whole round trip.
func (r *SSHRunner) Run(ctx context.Context, node *models.RadiusServer, command string) (string, error) {
	config, err := r.clientConfig(node)
	if err != nil {
		return "", err
	}

	addr := fmt.Sprintf("%s:%d", node.IPv4, node.SSHPort)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("run %q: %w: %s", command, err, strings.TrimSpace(stderr.String()))
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

func (r *SSHRunner) clientConfig(node *models.RadiusServer) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if node.SSHPrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(node.SSHPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if node.SSHPassword != "" {
		auth = append(auth, ssh.Password(node.SSHPassword))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("node %s has no SSH credentials", node.Name)
	}

	user := node.SSHUser
	if user == "" {
		user = "root"
	}

	return &ssh.ClientConfig{
		User: user,
		Auth: auth,
		// Nodes are created minutes before first contact, so there is no
		// known host key to pin yet.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.dialTimeout,
	}, nil
}
