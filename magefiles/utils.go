//go:build mage

package main

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/sh"
	"github.com/magefile/mage/target"
)

// step runs one command of a target, echoing it first. Output streams to the
// terminal so glslc and test failures stay readable.
func step(env map[string]string, command string, args ...string) error {
	fmt.Printf("==> %s %s\n", command, strings.Join(args, " "))
	if err := sh.RunWithV(env, command, args...); err != nil {
		return fmt.Errorf("%s %s: %w", command, strings.Join(args, " "), err)
	}
	return nil
}

func goCmd(args ...string) error {
	return step(nil, "go", args...)
}

// requireTool fails early with a hint when an external compiler is missing.
func requireTool(name, hint string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found on PATH (%s)", name, hint)
	}
	return nil
}

// staleShaders lists the sources whose SPIR-V is missing or older than the
// GLSL next to it.
func staleShaders() ([]string, error) {
	var stale []string
	for _, src := range shaderSources {
		in := filepath.Join(shaderDir, src)
		rebuild, err := target.Path(in+".spv", in)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", in, err)
		}
		if rebuild {
			stale = append(stale, in)
		}
	}
	return stale, nil
}
