package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/prism-community/workersup/pkg/werrors"
)

// SpawnOptions configures how a worker process is built and launched.
type SpawnOptions struct {
	Interpreter     string // e.g. "python3"
	BootstrapPath   string
	ScriptPath      string
	Args            map[string]string
	MemoryLimitMB   int
	CPULimitPercent float64
	LogLevel        string
	CommPort        int // 0 means "no --communication-port flag"
}

const (
	DefaultMemoryLimitMB   = 512
	DefaultCPULimitPercent = 80.0
	DefaultLogLevel        = "INFO"
)

func (o SpawnOptions) withDefaults() SpawnOptions {
	if o.MemoryLimitMB == 0 {
		o.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if o.CPULimitPercent == 0 {
		o.CPULimitPercent = DefaultCPULimitPercent
	}
	if o.LogLevel == "" {
		o.LogLevel = DefaultLogLevel
	}
	return o
}

// buildArgv constructs the argument vector per §6:
// <interpreter> <bootstrap> --script <target> [--args <json>]
//
//	--memory-limit-mb <int> --cpu-limit-percent <float> --log-level <level>
//	[--communication-port <int>]
func buildArgv(o SpawnOptions) []string {
	argv := []string{o.Interpreter, o.BootstrapPath, "--script", o.ScriptPath}
	if len(o.Args) > 0 {
		argv = append(argv, "--args", buildArgsJSON(o.Args))
	}
	argv = append(argv,
		"--memory-limit-mb", strconv.Itoa(o.MemoryLimitMB),
		"--cpu-limit-percent", strconv.FormatFloat(o.CPULimitPercent, 'f', -1, 64),
		"--log-level", o.LogLevel,
	)
	if o.CommPort != 0 {
		argv = append(argv, "--communication-port", strconv.Itoa(o.CommPort))
	}
	return argv
}

// buildArgsJSON serializes args to a flat JSON object of string keys and
// values with explicit escaping, byte-for-byte matching the original
// implementation's hand-rolled encoder rather than encoding/json, so that
// worker-side parsers tuned to that exact escaping keep working.
func buildArgsJSON(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(escapeJSON(k))
		b.WriteString(`":"`)
		b.WriteString(escapeJSON(args[k]))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func escapeJSON(value string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return r.Replace(value)
}

// validateInterpreter runs a quick version probe and fails fast on a
// nonzero exit, matching the spawn-time validation of §4.6.
func validateInterpreter(ctx context.Context, interpreter string) error {
	cmd := exec.CommandContext(ctx, interpreter, "--version")
	if err := cmd.Run(); err != nil {
		return werrors.Creation(fmt.Sprintf("interpreter %q failed version probe", interpreter)).WithCause(err)
	}
	return nil
}

// validateReadable checks that path exists and is readable.
func validateReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return werrors.Creation(fmt.Sprintf("path %q is not readable", path)).WithCause(err)
	}
	f.Close()
	return nil
}

// spawnProcess validates inputs, builds the argv, and starts the process
// with separate stdout/stderr pipes (never merged, per §4.6).
func spawnProcess(ctx context.Context, o SpawnOptions) (processHandle, error) {
	o = o.withDefaults()

	if err := validateInterpreter(ctx, o.Interpreter); err != nil {
		return nil, err
	}
	if err := validateReadable(o.BootstrapPath); err != nil {
		return nil, err
	}
	if err := validateReadable(o.ScriptPath); err != nil {
		return nil, err
	}

	argv := buildArgv(o)
	cmd := exec.Command(argv[0], argv[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, werrors.Creation("failed to attach stdout pipe").WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, werrors.Creation("failed to attach stderr pipe").WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, werrors.Creation("failed to start worker process").WithCause(err)
	}

	var stdoutReader, stderrReader io.Reader = stdout, stderr
	return newExecProcessHandle(cmd, stdoutReader, stderrReader), nil
}
