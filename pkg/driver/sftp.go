package driver

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// upload writes content to remotePath, creating parent directories as
// needed. Each call opens a fresh SFTP session so a broken transfer
// cannot poison later ones.
func (d *SSHDriver) upload(client *ssh.Client, remotePath string, content []byte, mode os.FileMode) error {
	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer sc.Close()

	if err := sc.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("create %s: %w", path.Dir(remotePath), err)
	}

	f, err := sc.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", remotePath, err)
	}
	return sc.Chmod(remotePath, mode)
}

// readFile fetches a remote file. Missing files surface as os.ErrNotExist.
func (d *SSHDriver) readFile(client *ssh.Client, remotePath string) ([]byte, error) {
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("open sftp session: %w", err)
	}
	defer sc.Close()

	f, err := sc.Open(remotePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// removeDir deletes a remote directory tree.
func (d *SSHDriver) removeDir(client *ssh.Client, remotePath string) error {
	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer sc.Close()

	return sc.RemoveAll(remotePath)
}
