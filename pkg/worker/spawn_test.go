package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeJSON(t *testing.T) {
	cases := map[string]string{
		`back\slash`:     `back\\slash`,
		`quo"te`:         `quo\"te`,
		"new\nline":      `new\nline`,
		"carriage\rret":  `carriage\rret`,
		"tab\ttab":       `tab\ttab`,
		"plain":          "plain",
	}
	for in, want := range cases {
		assert.Equal(t, want, escapeJSON(in), in)
	}
}

func TestBuildArgsJSON(t *testing.T) {
	got := buildArgsJSON(map[string]string{"a": "1", "b": "two\"quoted\""})
	assert.Equal(t, `{"a":"1","b":"two\"quoted\""}`, got)
}

func TestBuildArgvDefaults(t *testing.T) {
	argv := buildArgv(SpawnOptions{
		Interpreter:   "python3",
		BootstrapPath: "/bootstrap.py",
		ScriptPath:    "/script.py",
	}.withDefaults())

	assert.Equal(t, []string{
		"python3", "/bootstrap.py", "--script", "/script.py",
		"--memory-limit-mb", "512",
		"--cpu-limit-percent", "80",
		"--log-level", "INFO",
	}, argv)
}

func TestBuildArgvWithArgsAndCommPort(t *testing.T) {
	argv := buildArgv(SpawnOptions{
		Interpreter:   "python3",
		BootstrapPath: "/bootstrap.py",
		ScriptPath:    "/script.py",
		Args:          map[string]string{"k": "v"},
		CommPort:      9000,
	}.withDefaults())

	assert.Contains(t, argv, "--args")
	assert.Contains(t, argv, `{"k":"v"}`)
	assert.Contains(t, argv, "--communication-port")
	assert.Contains(t, argv, "9000")
}
