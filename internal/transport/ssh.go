package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// SSHConfig holds the connection settings for guests.
type SSHConfig struct {
	User        string
	Port        int
	KeyPath     string
	DialTimeout time.Duration

	// Stdout and Stderr receive remote command output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// SSH is a Remote backed by golang.org/x/crypto/ssh.
type SSH struct {
	cfg SSHConfig
	log hclog.Logger
}

var _ Remote = (*SSH)(nil)

// NewSSH returns an SSH transport.
func NewSSH(cfg SSHConfig, log hclog.Logger) *SSH {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &SSH{cfg: cfg, log: log}
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	pem, err := os.ReadFile(s.cfg.KeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("SSH key %s not found; run 'vm ssh-keygen' first", s.cfg.KeyPath)
		}
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	return &ssh.ClientConfig{
		User: s.cfg.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Guests are recreated from templates and reuse addresses, so
		// their host keys are never stable.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.cfg.DialTimeout,
	}, nil
}

func (s *SSH) dial(ctx context.Context, ip string) (*ssh.Client, error) {
	cc, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(ip, strconv.Itoa(s.cfg.Port))
	d := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	// The handshake is bounded by DialTimeout and by ctx; a guest that
	// accepts the connection but never speaks SSH must not block.
	conn.SetDeadline(time.Now().Add(s.cfg.DialTimeout))
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
	if !stop() {
		if err == nil {
			c.Close()
		}
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// session dials ip and opens a session. The returned func closes both.
func (s *SSH) session(ctx context.Context, ip string) (*ssh.Session, func(), error) {
	client, err := s.dial(ctx, ip)
	if err != nil {
		return nil, nil, err
	}
	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("open session: %w", err)
	}
	// Abort a hung remote command when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	return sess, func() {
		stop()
		sess.Close()
		client.Close()
	}, nil
}

// Run implements Remote.
func (s *SSH) Run(ctx context.Context, ip, command string) (int, error) {
	sess, done, err := s.session(ctx, ip)
	if err != nil {
		return -1, err
	}
	defer done()

	sess.Stdout = s.cfg.Stdout
	sess.Stderr = s.cfg.Stderr
	s.log.Debug("ssh run", "ip", ip, "command", command)
	return exitStatus(sess.Run(command))
}

// CopyTo implements Remote. The file is streamed to a remote shell that
// creates the parent directory and keeps the local permission bits.
func (s *SSH) CopyTo(ctx context.Context, ip, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	if st.IsDir() {
		return fmt.Errorf("copy %s: is a directory", localPath)
	}

	sess, done, err := s.session(ctx, ip)
	if err != nil {
		return err
	}
	defer done()

	sess.Stdin = f
	sess.Stderr = s.cfg.Stderr
	cmd := copyCommand(remotePath, st.Mode().Perm())
	s.log.Debug("ssh copy", "ip", ip, "local", localPath, "remote", remotePath)
	code, err := exitStatus(sess.Run(cmd))
	if err != nil {
		return fmt.Errorf("copy %s to %s:%s: %w", localPath, ip, remotePath, err)
	}
	if code != 0 {
		return fmt.Errorf("copy %s to %s:%s: remote exit status %d", localPath, ip, remotePath, code)
	}
	return nil
}

// Reachable implements Remote.
func (s *SSH) Reachable(ctx context.Context, ip string, port int) bool {
	return dialReachable(ctx, ip, port, s.cfg.DialTimeout)
}

// Shell attaches the terminal to an interactive login shell on the guest.
// Typing DetachKey twice disconnects and leaves the guest shell running.
func (s *SSH) Shell(ctx context.Context, ip string, stdin *os.File, stdout, stderr io.Writer) error {
	sess, done, err := s.session(ctx, ip)
	if err != nil {
		return err
	}
	defer done()

	in := newDetachReader(stdin)
	sess.Stdin = in
	sess.Stdout = stdout
	sess.Stderr = stderr

	fd := int(stdin.Fd())
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(fd, old)

		w, h, err := term.GetSize(fd)
		if err != nil {
			w, h = 80, 24
		}
		termType := os.Getenv("TERM")
		if termType == "" {
			termType = "xterm-256color"
		}
		modes := ssh.TerminalModes{ssh.ECHO: 1, ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
		if err := sess.RequestPty(termType, h, w, modes); err != nil {
			return fmt.Errorf("request pty: %w", err)
		}
		fmt.Fprintf(stderr, "Connected to %s. Press Ctrl+] twice to disconnect.\r\n", ip)
	}

	if err := sess.Shell(); err != nil {
		return fmt.Errorf("start shell: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- sess.Wait() }()
	select {
	case err := <-exited:
		_, err = exitStatus(err)
		return err
	case <-in.Detached():
		s.log.Debug("ssh shell detached", "ip", ip)
		fmt.Fprint(stderr, "\r\nDisconnected.\r\n")
		return nil
	}
}

// exitStatus separates a remote non-zero exit from transport failures.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return -1, fmt.Errorf("remote command ended without exit status")
	}
	return -1, err
}

func copyCommand(remotePath string, perm os.FileMode) string {
	dir := path.Dir(remotePath)
	q := shellQuote(remotePath)
	return fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s", shellQuote(dir), q, perm, q)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
