package process

import (
	"context"
	"strconv"

	"github.com/randomizedcoder/go-decoder-bench/internal/chunk"
)

// CommandChunkRunner runs one sampling chunk with {index}, {length},
// {output}, {name} and {dir} substituted. The command must write its
// histogram artifact to {output}.
type CommandChunkRunner struct {
	Name    string
	Dir     string
	Command Command
	exec    *Executor
}

// NewCommandChunkRunner creates a CommandChunkRunner.
func NewCommandChunkRunner(name, dir string, cmd Command, exec *Executor) *CommandChunkRunner {
	return &CommandChunkRunner{Name: name, Dir: dir, Command: cmd, exec: exec}
}

// RunChunk implements chunk.Runner.
func (r *CommandChunkRunner) RunChunk(ctx context.Context, c chunk.Chunk) (string, error) {
	vars := Vars{
		"index":  strconv.Itoa(c.Index),
		"length": strconv.FormatInt(c.Length, 10),
		"output": c.Path,
		"name":   r.Name,
		"dir":    r.Dir,
	}
	if _, err := r.exec.Run(ctx, r.Name+"/chunk-"+strconv.Itoa(c.Index), r.Command, vars); err != nil {
		return "", err
	}
	return c.Path, nil
}
