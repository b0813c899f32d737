package sshconn

import (
	"context"
	"io"

	"golang.org/x/crypto/ssh"
)

// Shell is an interactive login shell on the device. Writes go to its stdin, reads
// return the terminal output.
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

// Shell starts an interactive shell with a pseudo terminal so remote programs flush
// their output line by line. Echo is disabled. ctx only bounds the setup.
func (c *Client) Shell(ctx context.Context) (io.ReadWriteCloser, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	stop := closeOnDone(ctx, session)
	defer stop()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("vt100", 40, 200, modes); err != nil {
		session.Close()
		return nil, err
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, err
	}
	if ctx.Err() != nil {
		session.Close()
		return nil, ctx.Err()
	}
	return &Shell{session: session, stdin: stdin, stdout: stdout}, nil
}

func (s *Shell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *Shell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close terminates the shell and everything started in it.
func (s *Shell) Close() error {
	s.stdin.Close()
	return s.session.Close()
}
