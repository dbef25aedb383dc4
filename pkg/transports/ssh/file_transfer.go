package ssh

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// Upload writes content to a file on the remote host via SFTP, creating
// parent directories as needed. Used to place rendered provisioning units
// before a play runs.
func (c *Client) Upload(ctx context.Context, remotePath string, content []byte, mode os.FileMode) error {
	c.mu.Lock()
	client := c.client
	connected := c.connected
	c.mu.Unlock()

	if !connected || client == nil {
		return fmt.Errorf("not connected")
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer sftpClient.Close()

	if err := ctx.Err(); err != nil {
		return err
	}

	dir := path.Dir(remotePath)
	if dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}

	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("failed to write remote file %s: %w", remotePath, err)
	}

	if err := sftpClient.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("failed to chmod remote file %s: %w", remotePath, err)
	}

	return nil
}
