package runtime

import (
	"fmt"
	"os/exec"
	"strings"
)

// Runtime defines how to invoke the external interpreter on a staged source file.
type Runtime interface {
	// Name returns the runtime identifier (e.g., "simpleflow").
	Name() string

	// Command returns the command and args that execute the file at codePath.
	Command(codePath string) []string

	// FileExtension returns the extension staged source files get (e.g., ".sf").
	FileExtension() string

	// Validate checks that the submitted source is acceptable before staging.
	Validate(code string) error
}

// Interpreter is a Runtime backed by a fixed command line. The source path is
// always appended as the final argument and never interpolated into a shell.
type Interpreter struct {
	name      string
	command   []string
	extension string
	image     string
	maxBytes  int
}

// Option customises an Interpreter.
type Option func(*Interpreter)

// WithImage sets the container image used by container backends.
func WithImage(image string) Option {
	return func(i *Interpreter) { i.image = image }
}

// WithMaxCodeBytes caps the accepted source size.
func WithMaxCodeBytes(n int) Option {
	return func(i *Interpreter) { i.maxBytes = n }
}

// NewInterpreter builds an Interpreter for command. The extension gets a
// leading dot if it is missing.
func NewInterpreter(name string, command []string, extension string, opts ...Option) (*Interpreter, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("interpreter %q: empty command", name)
	}
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	i := &Interpreter{
		name:      name,
		command:   append([]string(nil), command...),
		extension: extension,
		maxBytes:  1 << 20,
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

func (i *Interpreter) Name() string { return i.name }

func (i *Interpreter) Image() string { return i.image }

func (i *Interpreter) FileExtension() string { return i.extension }

func (i *Interpreter) Command(codePath string) []string {
	args := make([]string, 0, len(i.command)+1)
	args = append(args, i.command...)
	return append(args, codePath)
}

func (i *Interpreter) Validate(code string) error {
	if len(code) == 0 {
		return fmt.Errorf("empty code")
	}
	if len(code) > i.maxBytes {
		return fmt.Errorf("code too large: %d bytes (max %d)", len(code), i.maxBytes)
	}
	return nil
}

// Available reports whether the interpreter executable can be resolved on PATH.
func (i *Interpreter) Available() error {
	if _, err := exec.LookPath(i.command[0]); err != nil {
		return fmt.Errorf("interpreter %q: %w", i.name, err)
	}
	return nil
}
