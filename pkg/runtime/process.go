package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/livefn/livefn/pkg/handler"
	"github.com/livefn/livefn/pkg/util/broadcast"
)

const stderrTailLines = 20

// Spec describes a process to start for a slot.
type Spec struct {
	FunctionID string
	InstanceID string
	Command    handler.Command
	// Env is the complete environment, as KEY=value pairs.
	Env []string
}

// Process is a started local process.
type Process interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err returns the exit error once Done is closed.
	Err() error
	// Kill terminates the process. It does not wait for the exit.
	Kill() error
	// Tail returns the last lines written to stderr.
	Tail() string
}

// Starter starts processes.
type Starter interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}

// Stream names an output stream of a process.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Output is a single line written by a process.
type Output struct {
	FunctionID string
	InstanceID string
	Stream     Stream
	Line       string
}

// ExecStarter starts processes with os/exec and publishes their output
// line by line.
type ExecStarter struct {
	Output *broadcast.Topic[Output]
}

func (e ExecStarter) Start(ctx context.Context, spec Spec) (Process, error) {
	cmd := exec.Command(spec.Command.Command, spec.Command.Args...)
	cmd.Dir = spec.Command.Dir
	cmd.Env = spec.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting %s: %w", spec.Command.Command, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}

	pipes := sync.WaitGroup{}
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		e.scan(spec, Stdout, stdout, nil)
	}()
	go func() {
		defer pipes.Done()
		e.scan(spec, Stderr, stderr, p)
	}()
	go func() {
		// Wait closes the pipes, so drain them first.
		pipes.Wait()
		p.err = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

func (e ExecStarter) scan(spec Spec, stream Stream, r io.Reader, p *execProcess) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if p != nil {
			p.appendTail(line)
		}
		if e.Output != nil {
			e.Output.Publish(Output{
				FunctionID: spec.FunctionID,
				InstanceID: spec.InstanceID,
				Stream:     stream,
				Line:       line,
			})
		}
	}
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	mu   sync.Mutex
	tail []string
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Tail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.tail, "\n")
}

func (p *execProcess) appendTail(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tail = append(p.tail, line)
	if len(p.tail) > stderrTailLines {
		p.tail = p.tail[len(p.tail)-stderrTailLines:]
	}
}
