// Package capture runs an external packet-capture tool and turns its text
// output into packet records.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"netguard/internal/client"
	"netguard/internal/model"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTool       = "tcpdump"
	DefaultBufferSize = 1024

	// stopGrace is how long the tool gets to exit after SIGINT before it is killed.
	stopGrace = 3 * time.Second

	eventSource = "capture"
)

// CommandFactory builds the command for one tool invocation.
type CommandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd

// Config selects the capture tool and the packet channel capacity
type Config struct {
	Tool       string `yaml:"tool"`
	BufferSize int    `yaml:"buffer_size"`
}

// Adapter owns the capture subprocess. At most one capture runs at a time.
type Adapter struct {
	tool     string
	toolPath string
	lookPath func(string) (string, error)
	command  CommandFactory
	emitter  model.Emitter
	metrics  *client.PrometheusMetrics
	logger   *logrus.Logger
	now      func() time.Time

	packets chan model.PacketRecord

	mu      sync.Mutex
	session *session
}

type session struct {
	iface  string
	filter string
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAdapter(cfg Config, emitter model.Emitter, logger *logrus.Logger) *Adapter {
	if cfg.Tool == "" {
		cfg.Tool = DefaultTool
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if emitter == nil {
		emitter = model.NopEmitter{}
	}
	return &Adapter{
		tool:     cfg.Tool,
		lookPath: exec.LookPath,
		command:  exec.CommandContext,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
		packets:  make(chan model.PacketRecord, cfg.BufferSize),
	}
}

func (a *Adapter) SetCommandFactory(f CommandFactory) {
	a.command = f
}

func (a *Adapter) SetLookPath(f func(string) (string, error)) {
	a.lookPath = f
}

func (a *Adapter) SetMetrics(m *client.PrometheusMetrics) {
	a.metrics = m
}

// Packets delivers parsed records in capture order. The channel is bounded;
// when the consumer falls behind, reading from the tool pauses.
func (a *Adapter) Packets() <-chan model.PacketRecord {
	return a.packets
}

// Initialize verifies the capture tool is installed.
func (a *Adapter) Initialize() error {
	path, err := a.lookPath(a.tool)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrToolMissing, a.tool, err)
	}

	a.mu.Lock()
	a.toolPath = path
	a.mu.Unlock()

	a.logger.Debugf("Capture tool %s found at %s", a.tool, path)
	return nil
}

func (a *Adapter) resolveTool() (string, error) {
	a.mu.Lock()
	path := a.toolPath
	a.mu.Unlock()
	if path != "" {
		return path, nil
	}
	if err := a.Initialize(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.toolPath, nil
}

// ListInterfaces asks the tool for its capture sources, in the order reported.
func (a *Adapter) ListInterfaces(ctx context.Context) ([]string, error) {
	path, err := a.resolveTool()
	if err != nil {
		return nil, err
	}

	args := []string{"-D"}
	cmd := a.command(ctx, path, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &ToolInvocationError{
			Args:     append([]string{a.tool}, args...),
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	return parseInterfaces(string(out)), nil
}

// BuildArgs returns the tool arguments: interface, no name resolution,
// line buffering, full date timestamps and the optional filter.
func BuildArgs(interfaceName, filter string) []string {
	var args []string
	if interfaceName != "" {
		args = append(args, "-i", interfaceName)
	}
	args = append(args, "-n", "-l", "-tttt")
	if strings.TrimSpace(filter) != "" {
		args = append(args, filter)
	}
	return args
}

// StartCapture spawns the tool and begins streaming records to Packets.
func (a *Adapter) StartCapture(interfaceName, filter string) error {
	path, err := a.resolveTool()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return ErrAlreadyCapturing
	}

	ctx, cancel := context.WithCancel(context.Background())
	args := BuildArgs(interfaceName, filter)
	cmd := a.command(ctx, path, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = stopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return &ToolInvocationError{
			Args:     append([]string{a.tool}, args...),
			ExitCode: -1,
			Err:      err,
		}
	}

	sess := &session{
		iface:  interfaceName,
		filter: filter,
		cmd:    cmd,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.session = sess
	a.metrics.SetCaptureActive(true)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		a.readStdout(sess, stdout)
	}()
	go func() {
		defer readers.Done()
		a.readStderr(stderr)
	}()
	go func() {
		// Wait must follow the readers so no output is lost.
		readers.Wait()
		a.handleExit(sess, cmd.Wait())
	}()

	a.logger.Infof("Capture started on %q (filter %q, pid %d)", interfaceName, filter, cmd.Process.Pid)
	a.emitter.Emit(model.NewEvent(model.EventCaptureStarted, eventSource,
		fmt.Sprintf("capture started on %s", displayInterface(interfaceName))))
	return nil
}

func (a *Adapter) readStdout(sess *session, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		// Keep draining after stop so the tool never blocks on a full pipe.
		if sess.ctx.Err() != nil {
			continue
		}

		rec, ok := ParseLine(scanner.Text(), a.now())
		a.metrics.RecordCaptureLine(ok)
		if !ok {
			continue
		}

		select {
		case a.packets <- rec:
		case <-sess.ctx.Done():
		}
	}
	if err := scanner.Err(); err != nil && sess.ctx.Err() == nil {
		a.logger.Warnf("Capture output read error: %v", err)
	}
}

func (a *Adapter) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a.metrics.RecordCaptureWarning()
		a.logger.Debugf("capture stderr: %s", line)
		a.emitter.Emit(model.NewEvent(model.EventWarning, eventSource, line))
	}
}

func (a *Adapter) handleExit(sess *session, err error) {
	a.mu.Lock()
	if a.session == sess {
		a.session = nil
	}
	stopped := sess.ctx.Err() != nil
	a.mu.Unlock()

	sess.cancel()
	a.metrics.SetCaptureActive(false)
	close(sess.done)

	switch {
	case stopped:
		a.logger.Infof("Capture on %q stopped", sess.iface)
		a.emitter.Emit(model.NewEvent(model.EventCaptureStopped, eventSource, "capture stopped"))
	case err != nil:
		a.logger.Errorf("Capture process exited unexpectedly: %v", err)
		a.emitter.Emit(model.NewErrorEvent(model.EventFatal, eventSource, "capture process exited", err))
	default:
		a.logger.Warnf("Capture process on %q exited", sess.iface)
		a.emitter.Emit(model.NewEvent(model.EventCaptureStopped, eventSource, "capture process exited"))
	}
}

// StopCapture terminates the running capture and waits for the process to
// exit. It is a no-op when nothing is running.
func (a *Adapter) StopCapture() error {
	sess := a.detach()
	if sess == nil {
		return nil
	}
	<-sess.done
	return nil
}

// detach takes the running session and cancels it under the lock, so an
// exit racing with the stop is still reported as a stop.
func (a *Adapter) detach() *session {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess := a.session
	a.session = nil
	if sess != nil {
		sess.cancel()
	}
	return sess
}

// IsActive reports whether a capture process is running.
func (a *Adapter) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

func displayInterface(name string) string {
	if name == "" {
		return "default interface"
	}
	return name
}
