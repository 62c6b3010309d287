// Package cdk runs the infrastructure toolkit CLI: building the app, synthesizing
// its cloud assembly and deploying the synthesized stacks.
package cdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/livefn/livefn/pkg/logger"
)

const (
	// DefaultOutput is the cloud assembly directory, relative to Dir.
	DefaultOutput = "cdk.out"

	stackArtifactType = "aws:cloudformation:stack"
)

var DefaultCommand = []string{"npx", "cdk"}

type StackStatus string

const (
	StackDeployed StackStatus = "deployed"
	StackFailed   StackStatus = "failed"
)

// Stack is a synthesized stack of the cloud assembly.
type Stack struct {
	Name string `json:"name"`
	// TemplateFile is the template path relative to the assembly directory.
	TemplateFile string `json:"templateFile"`
}

// Manifest lists the stacks of a synthesized cloud assembly.
type Manifest struct {
	// Dir is the absolute assembly directory.
	Dir    string  `json:"dir"`
	Stacks []Stack `json:"stacks"`
}

// TemplatePath returns the absolute path to the stack's template.
func (m Manifest) TemplatePath(s Stack) string {
	return filepath.Join(m.Dir, s.TemplateFile)
}

// StackResult is the outcome of deploying one stack.
type StackResult struct {
	Name    string            `json:"name"`
	Status  StackStatus       `json:"status"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// Failed reports whether any result has a failed status.
func Failed(results []StackResult) bool {
	for _, r := range results {
		if r.Status == StackFailed {
			return true
		}
	}
	return false
}

type Opts struct {
	// Dir is the working directory of every command.
	Dir string
	// Command invokes the toolkit CLI. Defaults to DefaultCommand.
	Command []string
	// App overrides the toolkit's --app for synth.
	App string
	// Output is the assembly directory. Relative paths resolve against Dir.
	Output string
	// BuildCommand compiles the app before synth. Build is a no-op when empty.
	BuildCommand []string
	// Context is passed as -c key=value pairs.
	Context map[string]string
	// Env is appended to the ambient environment.
	Env    []string
	Logger logger.Logger
}

// Toolkit is a command runner for the toolkit CLI.
type Toolkit struct {
	opts Opts
}

func New(opts Opts) *Toolkit {
	if len(opts.Command) == 0 {
		opts.Command = DefaultCommand
	}
	if opts.Output == "" {
		opts.Output = DefaultOutput
	}
	if opts.Logger == nil {
		opts.Logger = logger.VoidLogger()
	}
	return &Toolkit{opts: opts}
}

// OutputDir returns the absolute assembly directory.
func (t *Toolkit) OutputDir() string {
	if filepath.IsAbs(t.opts.Output) {
		return t.opts.Output
	}
	dir, _ := filepath.Abs(filepath.Join(t.opts.Dir, t.opts.Output))
	return dir
}

// Build runs the configured build command.
func (t *Toolkit) Build(ctx context.Context) error {
	if len(t.opts.BuildCommand) == 0 {
		return nil
	}
	if err := t.run(ctx, "build", t.opts.BuildCommand[0], t.opts.BuildCommand[1:]...); err != nil {
		return fmt.Errorf("error building app: %w", err)
	}
	return nil
}

// Synth synthesizes the app and reads the resulting manifest.
func (t *Toolkit) Synth(ctx context.Context) (Manifest, error) {
	args := []string{"synth", "--quiet", "--output", t.OutputDir()}
	if t.opts.App != "" {
		args = append(args, "--app", t.opts.App)
	}
	args = append(args, t.contextArgs()...)

	if err := t.toolkit(ctx, "synth", args...); err != nil {
		return Manifest{}, fmt.Errorf("error synthesizing app: %w", err)
	}
	return ReadManifest(t.OutputDir())
}

// Deploy deploys every stack of the last synthesized assembly. A failing
// command does not return an error: every stack without outputs is marked
// failed instead.
func (t *Toolkit) Deploy(ctx context.Context) ([]StackResult, error) {
	m, err := ReadManifest(t.OutputDir())
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "livefn-outputs-*.json")
	if err != nil {
		return nil, fmt.Errorf("error creating outputs file: %w", err)
	}
	outputsFile := f.Name()
	_ = f.Close()
	defer os.Remove(outputsFile)

	args := []string{
		"deploy", "--all",
		"--app", t.OutputDir(),
		"--require-approval", "never",
		"--outputs-file", outputsFile,
	}
	args = append(args, t.contextArgs()...)

	runErr := t.toolkit(ctx, "deploy", args...)
	if runErr != nil {
		t.opts.Logger.Error("deploy failed", "error", runErr)
	}

	outputs, err := ReadOutputs(outputsFile)
	if err != nil && runErr == nil {
		return nil, err
	}

	results := make([]StackResult, 0, len(m.Stacks))
	for _, s := range m.Stacks {
		res := StackResult{Name: s.Name, Status: StackDeployed, Outputs: outputs[s.Name]}
		if runErr != nil && res.Outputs == nil {
			res.Status = StackFailed
		}
		results = append(results, res)
	}
	return results, nil
}

func (t *Toolkit) contextArgs() []string {
	keys := make([]string, 0, len(t.opts.Context))
	for k := range t.opts.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, k := range keys {
		args = append(args, "-c", k+"="+t.opts.Context[k])
	}
	return args
}

func (t *Toolkit) toolkit(ctx context.Context, step string, args ...string) error {
	cmd := append(append([]string{}, t.opts.Command[1:]...), args...)
	return t.run(ctx, step, t.opts.Command[0], cmd...)
}

type manifestFile struct {
	Artifacts map[string]struct {
		Type       string `json:"type"`
		Properties struct {
			TemplateFile string `json:"templateFile"`
		} `json:"properties"`
	} `json:"artifacts"`
}

// ReadManifest reads manifest.json of the cloud assembly in dir. Stacks are
// sorted by name.
func ReadManifest(dir string) (Manifest, error) {
	byt, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return Manifest{}, fmt.Errorf("error reading cloud assembly manifest: %w", err)
	}
	mf := manifestFile{}
	if err := json.Unmarshal(byt, &mf); err != nil {
		return Manifest{}, fmt.Errorf("error parsing cloud assembly manifest: %w", err)
	}

	m := Manifest{Dir: dir, Stacks: []Stack{}}
	for name, a := range mf.Artifacts {
		if a.Type != stackArtifactType {
			continue
		}
		tpl := a.Properties.TemplateFile
		if tpl == "" {
			tpl = name + ".template.json"
		}
		m.Stacks = append(m.Stacks, Stack{Name: name, TemplateFile: tpl})
	}
	sort.Slice(m.Stacks, func(i, j int) bool { return m.Stacks[i].Name < m.Stacks[j].Name })
	return m, nil
}

// ReadOutputs reads a deploy outputs file of the form
// {"stack": {"key": "value"}}. A missing or empty file has no outputs.
func ReadOutputs(path string) (map[string]map[string]string, error) {
	byt, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading outputs file: %w", err)
	}
	out := map[string]map[string]string{}
	if len(strings.TrimSpace(string(byt))) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(byt, &out); err != nil {
		return nil, fmt.Errorf("error parsing outputs file: %w", err)
	}
	return out, nil
}
