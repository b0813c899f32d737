package sshconn

import (
	"bytes"
	"context"
	"fmt"
	"os"

	scp "github.com/bramvdbogaerde/go-scp"
	log "github.com/sirupsen/logrus"
)

// WriteFile uploads data to remotePath with the given mode over scp.
// An existing file is overwritten.
func (c *Client) WriteFile(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error {
	client, err := scp.NewClientBySSH(c.client)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"path": remotePath, "size": len(data)}).Debug("scp upload")
	err = client.CopyFile(ctx, bytes.NewReader(data), remotePath, fmt.Sprintf("%04o", mode.Perm()))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("scp to %s: %w", remotePath, err)
	}
	return nil
}
