package versionsrepo

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	sshtransport "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/sirupsen/logrus"
	giturls "github.com/whilp/git-urls"
	"golang.org/x/crypto/ssh"
)

// defaultPrivateKeyPath is the fallback identity used when no explicit
// SSH_PRIVATE_KEY is configured, matching §4.1's "/root/.ssh/id_rsa
// fallback".
const defaultPrivateKeyPath = "/root/.ssh/id_rsa"

// isSSHRemote mirrors fleet's internal/ssh.Is: parse the remote URL and
// check whether its scheme ends in "ssh" (covers both "ssh://" and the
// scp-like "git@host:path" syntax, which git-urls normalizes to an ssh
// scheme).
func isSSHRemote(remote string) bool {
	u, err := giturls.Parse(remote)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Scheme, "ssh")
}

// ResolveAuth returns the transport auth method for remote, or nil for an
// anonymous (http/https/git) remote. SSH credential material is drawn, in
// precedence order, from SSH_USERNAME/SSH_PUBLIC_KEY/SSH_PRIVATE_KEY, then
// falls back to /root/.ssh/id_rsa.
func ResolveAuth(remote string) (transport.AuthMethod, error) {
	if !isSSHRemote(remote) {
		return nil, nil
	}

	username := os.Getenv("SSH_USERNAME")
	if username == "" {
		username = "git"
	}

	privateKeyPath := os.Getenv("SSH_PRIVATE_KEY")
	if privateKeyPath == "" {
		privateKeyPath = defaultPrivateKeyPath
	}

	// SSH_PUBLIC_KEY is accepted for parity with the source configuration
	// surface, but go-git derives the public key from the private key
	// material itself; an explicit public key file is not required by the
	// transport and is not read separately here.
	_ = os.Getenv("SSH_PUBLIC_KEY")

	keys, err := sshtransport.NewPublicKeysFromFile(username, privateKeyPath, "")
	if err != nil {
		return nil, fmt.Errorf("loading ssh key from %s: %w", privateKeyPath, err)
	}

	keys.HostKeyCallback, err = hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("building host key callback: %w", err)
	}
	return keys, nil
}

// hostKeyCallback builds the host key verification strategy from
// SSH_KNOWN_HOSTS, a path to a known_hosts-formatted file. This mirrors
// fleet's internal/ssh.CreateKnownHostsCallBack, minus the Kubernetes
// Secret/ConfigMap lookup that feeds it there: this system takes the bytes
// straight from disk instead. With no known hosts configured, host key
// checking is skipped entirely, matching fleet's own EnforceHostKeyChecks=
// false fallback (internal/ssh.CreateKnownHostsCallBack's InsecureIgnoreHostKey
// branch).
func hostKeyCallback() (ssh.HostKeyCallback, error) {
	knownHostsPath := os.Getenv("SSH_KNOWN_HOSTS")
	if knownHostsPath == "" {
		logrus.Warn("SSH_KNOWN_HOSTS not set, skipping ssh host key verification")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := sshtransport.NewKnownHostsCallback(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts from %s: %w", knownHostsPath, err)
	}
	return callback, nil
}
