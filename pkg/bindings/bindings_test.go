package bindings

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/process"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls  []process.Command
	inputs []string
	stdout string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, cmd process.Command) (*process.Result, error) {
	f.calls = append(f.calls, cmd)
	if len(cmd.Args) > 1 {
		data, _ := os.ReadFile(cmd.Args[1])
		f.inputs = append(f.inputs, string(data))
	}
	if f.err != nil {
		return nil, f.err
	}
	return &process.Result{Stdout: []byte(f.stdout)}, nil
}

const counterDID = "service : { count : () -> (int32) }"

func TestDidcGenerator_Generate(t *testing.T) {
	runner := &fakeRunner{stdout: "export const idlFactory = ({ IDL }) => {};\n"}
	g := NewDidcGenerator(runner, zerolog.Nop())

	out, err := g.Generate(context.Background(), counterDID)
	require.NoError(t, err)
	assert.Contains(t, out, "idlFactory")

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "didc", call.Name)
	assert.Equal(t, "bind", call.Args[0])
	assert.Equal(t, []string{"--target", "js"}, call.Args[2:])
	assert.Equal(t, []string{counterDID}, runner.inputs)

	// The temporary input is removed afterwards.
	assert.NoFileExists(t, call.Args[1])
}

func TestDidcGenerator_Options(t *testing.T) {
	runner := &fakeRunner{stdout: "export interface _SERVICE {}"}
	g := NewDidcGenerator(runner, zerolog.Nop(), WithCommand("/opt/didc"), WithTarget(TargetTS))

	_, err := g.Generate(context.Background(), counterDID)
	require.NoError(t, err)
	assert.Equal(t, "/opt/didc", runner.calls[0].Name)
	assert.Equal(t, "ts", runner.calls[0].Args[3])
}

func TestDidcGenerator_ParseFailureIsBindingsError(t *testing.T) {
	runner := &fakeRunner{
		err: engine.NewSubprocessError("didc exited with status 1", errors.New("exit status 1")).
			WithCode(engine.ErrCodeExitStatus),
	}
	g := NewDidcGenerator(runner, zerolog.Nop())

	_, err := g.Generate(context.Background(), "service : { broken")
	require.Error(t, err)
	assert.True(t, engine.IsBindings(err))
	assert.True(t, errors.Is(err, engine.ErrBindingsFailed))
}

func TestDidcGenerator_EmptyInput(t *testing.T) {
	runner := &fakeRunner{}
	g := NewDidcGenerator(runner, zerolog.Nop())

	_, err := g.Generate(context.Background(), "  \n")
	require.Error(t, err)
	assert.True(t, engine.IsBindings(err))
	assert.Empty(t, runner.calls)
}

func TestDidcGenerator_EmptyOutput(t *testing.T) {
	g := NewDidcGenerator(&fakeRunner{}, zerolog.Nop())

	_, err := g.Generate(context.Background(), counterDID)
	require.Error(t, err)
	assert.True(t, engine.IsBindings(err))
}
