// Package ghactions provides access to the environment of a GitHub Actions
// job: action inputs, the repository the workflow runs for, the event that
// triggered it and step outputs.
package ghactions

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const loggerName = "ghactions"

const (
	EnvRepository = "GITHUB_REPOSITORY"
	EnvEventName  = "GITHUB_EVENT_NAME"
	EnvEventPath  = "GITHUB_EVENT_PATH"
	EnvOutput     = "GITHUB_OUTPUT"
	EnvToken      = "GITHUB_TOKEN"
)

// Env is the GitHub Actions runner environment.
type Env struct {
	fs     afero.Fs
	getenv func(string) string
	stdout io.Writer
	// logger is nil when the global logger is used
	logger *zap.Logger
}

type Option func(*Env)

// WithFs sets the filesystem that is used to read the event payload and
// workspace files and to write step outputs.
func WithFs(fs afero.Fs) Option {
	return func(e *Env) {
		e.fs = fs
	}
}

// WithGetenv sets the function that is used to look up environment
// variables.
func WithGetenv(fn func(string) string) Option {
	return func(e *Env) {
		e.getenv = fn
	}
}

// WithLogger sets the logger of the Env.
// Without it the global logger at the time of logging is used, an Env can
// therefore be created before the logger is initialized.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Env) {
		e.logger = logger
	}
}

// WithStdout sets the writer workflow commands are written to.
func WithStdout(w io.Writer) Option {
	return func(e *Env) {
		e.stdout = w
	}
}

func (e *Env) log() *zap.Logger {
	if e.logger != nil {
		return e.logger
	}

	return zap.L().Named(loggerName)
}

func New(opts ...Option) *Env {
	e := Env{
		fs:     afero.NewOsFs(),
		getenv: os.Getenv,
		stdout: os.Stdout,
	}

	for _, o := range opts {
		o(&e)
	}

	return &e
}

// Input returns the value of the action input with the given name.
// An empty string is returned when the input is not set.
func (e *Env) Input(name string) string {
	key := "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
	return strings.TrimSpace(e.getenv(key))
}

// Token returns the GitHub API token passed as action input inputName, if
// it is unset the GITHUB_TOKEN environment variable is returned.
func (e *Env) Token(inputName string) string {
	if token := e.Input(inputName); token != "" {
		return token
	}

	return e.getenv(EnvToken)
}

// Repository returns the owner and name of the repository the workflow
// runs for.
func (e *Env) Repository() (owner, name string, err error) {
	val := e.getenv(EnvRepository)
	if val == "" {
		return "", "", fmt.Errorf("%s environment variable is not set", EnvRepository)
	}

	owner, name, found := strings.Cut(val, "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%s environment variable has an invalid value: %q, expecting <OWNER>/<REPOSITORY>", EnvRepository, val)
	}

	return owner, name, nil
}

// ReadFile reads a file from the filesystem of the environment.
func (e *Env) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(e.fs, path)
}

// SetOutput sets the step output name to value.
// When the GITHUB_OUTPUT environment variable is set, the output is
// appended to the file it references, otherwise a set-output workflow
// command is written to stdout.
func (e *Env) SetOutput(name, value string) error {
	if name == "" {
		return errors.New("output name is empty")
	}

	path := e.getenv(EnvOutput)
	if path == "" {
		_, err := fmt.Fprintf(e.stdout, "::set-output name=%s::%s\n", escapeProperty(name), escapeData(value))
		return err
	}

	f, err := e.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening output file failed: %w", err)
	}

	_, err = f.WriteString(outputFileEntry(name, value))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("writing to output file %s failed: %w", path, err)
	}

	return f.Close()
}

const outputDelimiter = "ghadelimiter_contentsync"

func outputFileEntry(name, value string) string {
	if !strings.ContainsAny(value, "\r\n") {
		return fmt.Sprintf("%s=%s\n", name, value)
	}

	return fmt.Sprintf("%s<<%s\n%s\n%s\n", name, outputDelimiter, value, outputDelimiter)
}

// Error writes an error workflow command to stdout, the runner shows msg as
// error annotation.
func (e *Env) Error(msg string) {
	_, err := fmt.Fprintf(e.stdout, "::error::%s\n", escapeData(msg))
	if err != nil {
		e.log().Warn("writing error workflow command failed", zap.Error(err))
	}
}

var dataEscaper = strings.NewReplacer(
	"%", "%25",
	"\r", "%0D",
	"\n", "%0A",
)

var propertyEscaper = strings.NewReplacer(
	"%", "%25",
	"\r", "%0D",
	"\n", "%0A",
	":", "%3A",
	",", "%2C",
)

func escapeData(s string) string {
	return dataEscaper.Replace(s)
}

func escapeProperty(s string) string {
	return propertyEscaper.Replace(s)
}
