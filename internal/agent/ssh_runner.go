package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/haatos/stageci/internal/engine"
	"github.com/haatos/stageci/internal/util"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Config describes the remote agent jobs execute on.
type Config struct {
	Username    string
	Hostname    string
	KeyPath     string
	Workspace   string
	DialTimeout time.Duration
}

// SSHRunner executes job steps on a remote agent over SSH. The local
// workspace is uploaded before the first step and the remote workspace is
// synced back afterwards, so cache restore and artifact collection keep
// operating on the local tree.
type SSHRunner struct {
	cfg Config
}

func NewSSHRunner(cfg Config) *SSHRunner {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &SSHRunner{cfg: cfg}
}

func (r *SSHRunner) RunJob(
	ctx context.Context,
	job *engine.ExpandedJob,
	workdir string,
	out io.Writer,
) error {
	client, err := r.connect()
	if err != nil {
		fmt.Fprintln(out, "err connecting to agent through SSH")
		return err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	remoteDir := path.Join(
		r.cfg.Workspace,
		fmt.Sprintf("run_%s", job.Variables["CI_PIPELINE_ID"]),
		util.SanitizeKey(job.Name),
	)
	if err := sftpClient.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("creating remote workspace: %w", err)
	}
	if err := uploadTree(sftpClient, workdir, remoteDir); err != nil {
		return fmt.Errorf("uploading workspace: %w", err)
	}

	runErr := r.runSteps(ctx, client, job, remoteDir, out)

	// sync outputs back even for a failed job so on_failure artifacts
	// can still be collected locally
	if err := downloadTree(sftpClient, remoteDir, workdir); err != nil && runErr == nil {
		return fmt.Errorf("downloading workspace: %w", err)
	}
	return runErr
}

func (r *SSHRunner) runSteps(
	ctx context.Context,
	client *ssh.Client,
	job *engine.ExpandedJob,
	remoteDir string,
	out io.Writer,
) error {
	for _, step := range job.BeforeScript {
		if err := r.runStep(ctx, client, job, remoteDir, step, out); err != nil {
			return err
		}
	}
	for _, step := range job.Script {
		if err := r.runStep(ctx, client, job, remoteDir, step, out); err != nil {
			return err
		}
	}
	return nil
}

func (r *SSHRunner) runStep(
	ctx context.Context,
	client *ssh.Client,
	job *engine.ExpandedJob,
	remoteDir, step string,
	out io.Writer,
) error {
	fmt.Fprintf(out, "$ %s\n", step)

	sess, err := client.NewSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return err
	}

	doneCh := make(chan error, 1)
	go func() {
		cmd := remoteCommand(job, remoteDir, step)
		if err := sess.Start(cmd); err != nil {
			doneCh <- fmt.Errorf("err starting command %q: %w", step, err)
			return
		}
		go streamLines(stdout, out)
		go streamLines(stderr, out)
		doneCh <- sess.Wait()
	}()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGINT)
		return ctx.Err()
	case err := <-doneCh:
		if err == nil {
			return nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return engine.JobFailure{Step: step, ExitCode: exitErr.ExitStatus()}
		}
		return err
	}
}

func (r *SSHRunner) connect() (*ssh.Client, error) {
	privateKey, err := os.ReadFile(r.cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	cc := &ssh.ClientConfig{
		User:            r.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.cfg.DialTimeout,
	}

	hostname := r.cfg.Hostname
	if !strings.Contains(hostname, ":") {
		hostname += ":22"
	}
	return ssh.Dial("tcp", hostname, cc)
}

func remoteCommand(job *engine.ExpandedJob, remoteDir, step string) string {
	var sb strings.Builder
	sb.WriteString("cd " + remoteDir)
	for k, v := range job.Variables {
		sb.WriteString(fmt.Sprintf(" && export %s=%s", k, shellQuote(v)))
	}
	sb.WriteString(" && " + step)
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func streamLines(r io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fmt.Fprintln(out, scanner.Text())
	}
}

func uploadTree(sftpClient *sftp.Client, localDir, remoteDir string) error {
	return filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		return uploadFile(sftpClient, p, path.Join(remoteDir, filepath.ToSlash(rel)))
	})
}

func uploadFile(sftpClient *sftp.Client, localPath, remotePath string) error {
	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return err
	}
	local, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer local.Close()

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return err
	}
	defer remote.Close()

	_, err = io.Copy(remote, local)
	return err
}

func downloadTree(sftpClient *sftp.Client, remoteDir, localDir string) error {
	files, err := sftpClient.ReadDir(remoteDir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(localDir, os.ModePerm); err != nil {
		return err
	}

	for _, f := range files {
		remotePath := path.Join(remoteDir, f.Name())
		localPath := filepath.Join(localDir, f.Name())

		if f.IsDir() {
			if err := downloadTree(sftpClient, remotePath, localPath); err != nil {
				return err
			}
		} else {
			if err := downloadFile(sftpClient, remotePath, localPath); err != nil {
				return err
			}
		}
	}

	return nil
}

func downloadFile(sftpClient *sftp.Client, remotePath, localPath string) error {
	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return err
	}
	defer remoteFile.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer localFile.Close()

	if _, err := io.Copy(localFile, remoteFile); err != nil {
		return err
	}

	return nil
}
