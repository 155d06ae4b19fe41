package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"enginehost/internal/logging"
)

// Process runs the engine as an external binary. Each constructed instance is
// one child process; intents are written to its stdin as JSON lines and its
// output is forwarded to the logger.
type Process struct {
	binary      string
	args        []string
	stopTimeout time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	next Ref
	live map[Ref]*child
}

type child struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan error

	// wmu serializes intent writes. Destroy never takes it.
	wmu sync.Mutex
	enc *json.Encoder
}

// NewProcess builds a Process engine for binary. A non-positive stopTimeout
// defaults to five seconds.
func NewProcess(binary string, args []string, stopTimeout time.Duration, logger *slog.Logger) *Process {
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	return &Process{
		binary:      binary,
		args:        append([]string(nil), args...),
		stopTimeout: stopTimeout,
		logger:      logging.NewComponentLogger(logger, "engine-process"),
		next:        1,
		live:        make(map[Ref]*child),
	}
}

func (p *Process) ConstructNativeClass() (Ref, error) {
	if strings.TrimSpace(p.binary) == "" {
		return 0, errors.New("engine command is empty")
	}
	cmd := exec.Command(p.binary, p.args...) //nolint:gosec
	// Own process group: the kill must also reach helpers holding the
	// output pipes.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start engine: %w", err)
	}

	p.mu.Lock()
	ref := p.next
	p.next++
	c := &child{cmd: cmd, stdin: stdin, enc: json.NewEncoder(stdin), done: make(chan error, 1)}
	p.live[ref] = c
	p.mu.Unlock()

	logger := p.logger.With(logging.Uint64("ref", uint64(ref)), logging.Int("pid", cmd.Process.Pid))
	var wg sync.WaitGroup
	wg.Add(2)
	go p.forward(&wg, stdout, logger, "stdout")
	go p.forward(&wg, stderr, logger, "stderr")
	go func() {
		wg.Wait()
		c.done <- cmd.Wait()
	}()

	logger.Info("engine process started", logging.String("binary", p.binary))
	return ref, nil
}

func (p *Process) forward(wg *sync.WaitGroup, r io.Reader, logger *slog.Logger, stream string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug(scanner.Text(), logging.String("stream", stream))
	}
}

func (p *Process) DestroyNativeClass(ref Ref) error {
	p.mu.Lock()
	c, ok := p.live[ref]
	delete(p.live, ref)
	p.mu.Unlock()
	if !ok {
		return ErrUnknownInstance
	}

	_ = c.stdin.Close()
	select {
	case err := <-c.done:
		if err != nil {
			return fmt.Errorf("engine exited: %w", err)
		}
		return nil
	case <-time.After(p.stopTimeout):
		if err := unix.Kill(-c.cmd.Process.Pid, unix.SIGKILL); err != nil {
			_ = c.cmd.Process.Kill()
		}
		<-c.done
		logging.WarnWithContext(p.logger, "engine did not exit after stdin closed; killed", "engine_killed",
			logging.Uint64("ref", uint64(ref)),
			logging.Duration("stop_timeout", p.stopTimeout),
			logging.String(logging.FieldImpact, "engine state may not have been flushed"),
			logging.String(logging.FieldErrorHint, "make the engine exit when its stdin reaches EOF"))
		return nil
	}
}

// AppNewIntent writes intent to the engine's stdin. The write blocks while
// the engine is not reading; destroying the instance unblocks it with an
// error.
func (p *Process) AppNewIntent(ref Ref, intent Intent) error {
	p.mu.Lock()
	c, ok := p.live[ref]
	p.mu.Unlock()
	if !ok {
		return ErrUnknownInstance
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.enc.Encode(intent); err != nil {
		return fmt.Errorf("write intent: %w", err)
	}
	return nil
}
