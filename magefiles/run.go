//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the engine in a window.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	return goCmd("run", ".")
}

// Renders 60 frames on the CPU reference device and writes the last one to frame.png.
func (Run) Headless() error {
	return goCmd("run", ".", "-backend", "reference", "-frames", "60", "-dump", "frame.png")
}
