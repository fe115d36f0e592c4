//go:build mage

package main

import "github.com/magefile/mage/mg"

type Test mg.Namespace

// Runs every package test.
func (Test) All() error {
	return goCmd("test", "./...")
}

// Runs the engine tests with the race detector, which needs cgo.
func (Test) Race() error {
	return step(map[string]string{"CGO_ENABLED": "1"}, "go", "test", "-race", "./engine/...")
}
