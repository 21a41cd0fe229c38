package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creack/pty"
	"github.com/kballard/go-shellquote"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/farm-stack/farm/internal/schema"
)

const outputTailBytes = 4096

// backend is a temporarily launched API process.
type backend struct {
	cmd    *exec.Cmd
	pty    *os.File
	output *tailBuffer
	exited chan struct{}
	err    error // set before exited is closed
}

func (e *Extractor) extractWithBackend(ctx context.Context) (*schema.Document, error) {
	host, port := e.config.hostPort()
	if portOpen(host, port) {
		return nil, errors.WithHintf(
			errors.Newf("%s is in use but did not serve the schema", net.JoinHostPort(host, port)),
			"stop the process listening on port %s or point backend.url at the running API", port,
		)
	}

	b, err := e.launch()
	if err != nil {
		return nil, err
	}
	defer e.terminate(b)

	e.logger.Infow("Waiting for temporary backend", "pid", b.cmd.Process.Pid, "timeout", e.config.StartupTimeout)

	deadline := time.NewTimer(e.config.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.exited:
			return nil, errors.WithDetail(
				errors.Wrap(b.exitError(), "backend exited before serving the schema"),
				b.output.String(),
			)
		case <-deadline.C:
			err := errors.Newf("backend did not serve the schema within %s", e.config.StartupTimeout)
			if lastErr != nil {
				err = errors.WithDetailf(err, "last poll error: %v", lastErr)
			}
			return nil, errors.WithHint(
				errors.WithDetail(err, b.output.String()),
				"increase backend.startup_timeout or check backend.launch_cmd",
			)
		case <-ticker.C:
			doc, err := e.Fetch(ctx)
			if err == nil {
				e.logger.Debugw("Temporary backend served schema", "pid", b.cmd.Process.Pid)
				return doc, nil
			}
			lastErr = err
		}
	}
}

func (e *Extractor) launch() (*backend, error) {
	host, port := e.config.hostPort()
	command := strings.NewReplacer("{{port}}", port, "{{host}}", host).Replace(e.config.Launch.Command)

	args, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid launch command %q", command)
	}
	if len(args) == 0 {
		return nil, errors.New("empty launch command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = e.config.Launch.Dir
	cmd.Env = append(os.Environ(), "PORT="+port, "HOST="+host)
	for k, v := range e.config.Launch.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	b := &backend{cmd: cmd, output: &tailBuffer{max: outputTailBytes}, exited: make(chan struct{})}
	out := io.MultiWriter(b.output, &lineLogger{log: e.logger})

	if e.config.Launch.UsePTY {
		// pty.Start puts the child in its own session, which also makes it a group leader.
		f, err := pty.Start(cmd)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to start %q under a pty", args[0])
		}
		b.pty = f
		go func() { _, _ = io.Copy(out, f) }()
	} else {
		setProcessGroup(cmd)
		cmd.Stdout = out
		cmd.Stderr = out
		// A child that leaves the group can hold the output pipe open after exit.
		cmd.WaitDelay = e.config.KillTimeout
		if err := cmd.Start(); err != nil {
			return nil, errors.WithHint(
				errors.Wrapf(err, "failed to start %q", args[0]),
				"check that the launch command is installed and backend.launch_dir is correct",
			)
		}
	}

	go func() {
		b.err = cmd.Wait()
		close(b.exited)
	}()

	if e.launchHook != nil {
		e.launchHook(cmd.Process.Pid)
	}
	e.logger.Debugw("Launched temporary backend", "pid", cmd.Process.Pid, "command", command, "pty", b.pty != nil)
	return b, nil
}

// terminate stops the process group politely, then forcefully, and kills any
// descendants that escaped the group.
func (e *Extractor) terminate(b *backend) {
	pid := b.cmd.Process.Pid
	children := descendants(pid)

	select {
	case <-b.exited:
	default:
		if err := signalGroup(pid, false); err != nil {
			e.logger.Debugw("Graceful stop failed", "pid", pid, "error", err)
		}
		select {
		case <-b.exited:
			e.logger.Debugw("Temporary backend stopped", "pid", pid)
		case <-time.After(e.config.KillTimeout):
			e.logger.Warnw("Temporary backend did not stop in time, killing", "pid", pid, "timeout", e.config.KillTimeout)
			_ = signalGroup(pid, true)
			_ = b.cmd.Process.Kill()
			e.killLeftovers(children)
			<-b.exited
		}
	}

	e.killLeftovers(children)
	if b.pty != nil {
		_ = b.pty.Close()
	}
}

func (e *Extractor) killLeftovers(children []*process.Process) {
	for _, c := range children {
		if running, _ := c.IsRunning(); running {
			e.logger.Debugw("Killing leftover child process", "pid", c.Pid)
			_ = c.Kill()
		}
	}
}

func (b *backend) exitError() error {
	if b.err == nil {
		return errors.New("exit status 0")
	}
	return b.err
}

// descendants lists the process tree below pid.
func descendants(pid int) []*process.Process {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

// portOpen reports whether something already accepts connections on host:port.
func portOpen(host, port string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// lineLogger forwards backend output to the debug log one line at a time.
type lineLogger struct {
	mu      sync.Mutex
	log     *zap.SugaredLogger
	partial []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(l.partial[:i])); line != "" {
			l.log.Debugw("Backend output", "line", line)
		}
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) == 0 {
		return "(no output)"
	}
	return fmt.Sprintf("backend output (tail):\n%s", strings.TrimRight(string(t.buf), "\n"))
}
