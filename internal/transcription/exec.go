package transcription

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"strconv"

	"github.com/mattn/go-shellwords"
)

// ExecConfig contains configuration for the command-line engine
type ExecConfig struct {
	Command      string // command line, parsed with shell quoting rules
	Model        string // passed as --model when set
	Language     string // passed as --language when set
	StdinSamples bool   // the command can read float32 samples from stdin
}

// ExecEngine runs an external recognizer command for each request. The command
// prints a JSON object, a JSON array or plain text on stdout.
type ExecEngine struct {
	cmd    []string
	config ExecConfig
}

// NewExecEngine parses the command line and creates the engine
func NewExecEngine(config ExecConfig) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(config.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &ExecEngine{cmd: args, config: config}, nil
}

// RecognizeSamples pipes samples to the command as little-endian float32
func (e *ExecEngine) RecognizeSamples(ctx context.Context, samples []float32, sampleRate int) ([]Hypothesis, error) {
	if !e.config.StdinSamples {
		return nil, ErrInMemoryUnsupported
	}

	stdin := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(stdin[i*4:], math.Float32bits(s))
	}

	return e.run(ctx, bytes.NewReader(stdin), "--stdin", "--sample-rate", strconv.Itoa(sampleRate))
}

// RecognizeFile passes the WAV file path to the command with --audio
func (e *ExecEngine) RecognizeFile(ctx context.Context, path string) ([]Hypothesis, error) {
	return e.run(ctx, nil, "--audio", path)
}

func (e *ExecEngine) run(ctx context.Context, stdin *bytes.Reader, extra ...string) ([]Hypothesis, error) {
	base := e.cmd[0]
	cmdArgs := append([]string{}, e.cmd[1:]...)
	cmdArgs = append(cmdArgs, extra...)
	if e.config.Model != "" {
		cmdArgs = append(cmdArgs, "--model", e.config.Model)
	}
	if e.config.Language != "" {
		cmdArgs = append(cmdArgs, "--language", e.config.Language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if stdin != nil {
		command.Stdin = stdin
	}

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	hypotheses, err := parseHypotheses(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to decode engine output: %w", err)
	}
	return hypotheses, nil
}
