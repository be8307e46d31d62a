package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/transport"
)

// stopGrace is how long Stop waits for a worker to exit after the close
// control message before killing it.
const stopGrace = 3 * time.Second

// Process is one running worker executable with its channel. The
// channel rides on the worker's stdin/stdout; stderr passes through to
// the host's stderr for crash visibility.
type Process struct {
	profile ExecutionProfile
	cmd     *exec.Cmd
	channel *Channel
	appLog  *slog.Logger

	waitCh chan error
}

// StartProcess spawns the profile's worker executable and opens its
// channel. The returned process is ready for requests; the caller owns
// Stop.
func StartProcess(ctx context.Context, profile ExecutionProfile, logger log.Logger, appLog *slog.Logger) (*Process, error) {
	if profile.InProcess() {
		return nil, fmt.Errorf("profile %q has no worker command", profile.Name)
	}
	if appLog == nil {
		appLog = slog.Default()
	}

	cmd := exec.CommandContext(ctx, profile.Command, profile.Args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %q: %w", profile.Command, err)
	}

	framer := transport.NewPipeFramer(stdout, stdin)
	channel := NewChannel(framer, logger)
	channel.Start()

	p := &Process{
		profile: profile,
		cmd:     cmd,
		channel: channel,
		appLog:  appLog,
		waitCh:  make(chan error, 1),
	}
	go func() {
		err := cmd.Wait()
		p.waitCh <- err
		if err != nil {
			appLog.Warn("worker process exited",
				"profile", profile.Name,
				"pid", cmd.Process.Pid,
				"err", err)
		}
		channel.shutdown(ErrChannelClosed)
	}()

	appLog.Info("worker process started",
		"profile", profile.Name,
		"command", profile.Command,
		"pid", cmd.Process.Pid,
		"channel", channel.ID())

	return p, nil
}

// Profile returns the execution profile this process serves.
func (p *Process) Profile() ExecutionProfile {
	return p.profile
}

// Channel returns the process's request channel.
func (p *Process) Channel() *Channel {
	return p.channel
}

// Alive reports whether the worker is still running and its channel is
// usable.
func (p *Process) Alive() bool {
	return !p.channel.Closed()
}

// Stop shuts the worker down: close control message first, SIGKILL if
// it does not exit within the grace period.
func (p *Process) Stop() error {
	_ = p.channel.Close()

	select {
	case err := <-p.waitCh:
		return err
	case <-time.After(stopGrace):
	}

	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill worker %q: %w", p.profile.Name, err)
	}
	return <-p.waitCh
}

// Kill forcibly terminates the worker without the close handshake. For
// workers that stopped answering the channel.
func (p *Process) Kill() error {
	p.channel.shutdown(ErrChannelClosed)
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill worker %q: %w", p.profile.Name, err)
	}
	return <-p.waitCh
}
