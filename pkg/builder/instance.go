package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/steigerbuild/steiger/pkg/util/console"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

// instanceTimeout bounds listing and creating the buildx builder.
const instanceTimeout = 2 * time.Minute

// Instance is the shared buildx builder every context build runs on.
// Concurrent callers of Ensure share one in-flight creation attempt and a
// successful attempt is remembered for the life of the process.
type Instance struct {
	Name   string
	Driver string

	runner shell.Runner
	binary string

	once *sharedOnce

	// creates counts `buildx create` invocations.
	creates atomic.Int32
}

func NewInstance(runner shell.Runner, binary, name, driver string) *Instance {
	return &Instance{
		Name:   name,
		Driver: driver,
		runner: runner,
		binary: binary,
		once:   &sharedOnce{timeout: instanceTimeout},
	}
}

// Ensure makes sure the builder exists, creating it if needed. A caller
// whose ctx ends stops waiting without failing the attempt for the others.
func (i *Instance) Ensure(ctx context.Context) error {
	return i.once.Do(ctx, i.ensure)
}

// Creates reports how many times creation was attempted.
func (i *Instance) Creates() int {
	return int(i.creates.Load())
}

func (i *Instance) ensure(ctx context.Context) error {
	exists, err := i.exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		console.Debugf("buildx builder %s already exists", i.Name)
		return nil
	}

	i.creates.Add(1)
	_, err = i.runner.Run(ctx, shell.Command{
		Name: i.binary,
		Args: []string{"buildx", "create", "--driver=" + i.Driver, "--name=" + i.Name},
	})
	if err != nil {
		// Another steiger process may have won the race.
		var exitErr *shell.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Stderr, "existing instance for") {
			return nil
		}
		return fmt.Errorf("creating buildx builder %s: %w", i.Name, err)
	}
	console.Infof("Created buildx builder %s", i.Name)
	return nil
}

type buildxBuilder struct {
	Name   string `json:"Name"`
	Driver string `json:"Driver"`
}

func (i *Instance) exists(ctx context.Context) (bool, error) {
	res, err := i.runner.Run(ctx, shell.Command{
		Name: i.binary,
		Args: []string{"buildx", "ls", "--format=json"},
	})
	if err != nil {
		return false, fmt.Errorf("listing buildx builders: %w", err)
	}
	builders, err := parseBuildxLs(res.Stdout)
	if err != nil {
		return false, err
	}
	for _, b := range builders {
		if b.Name == i.Name {
			return true, nil
		}
	}
	return false, nil
}

// parseBuildxLs accepts both one JSON object per line and a JSON array.
func parseBuildxLs(out []byte) ([]buildxBuilder, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	if out[0] == '[' {
		var builders []buildxBuilder
		if err := json.Unmarshal(out, &builders); err != nil {
			return nil, fmt.Errorf("parsing buildx ls output: %w", err)
		}
		return builders, nil
	}

	var builders []buildxBuilder
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var b buildxBuilder
		if err := json.Unmarshal(line, &b); err != nil {
			return nil, fmt.Errorf("parsing buildx ls output: %w", err)
		}
		builders = append(builders, b)
	}
	return builders, nil
}
