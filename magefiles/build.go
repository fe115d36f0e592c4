//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

var shaderSources = []string{"gbuffer.vert", "gbuffer.frag", "lighting.comp"}

// Compiles the GLSL sources in assets/shaders to SPIR-V with glslc. Shaders
// whose .spv is newer than the source are skipped.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and builds the lumen binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	return goCmd("build", "-o", "bin/lumen", ".")
}

func buildShaders() error {
	stale, err := staleShaders()
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		fmt.Println("shaders up to date")
		return nil
	}
	if err := requireTool("glslc", "install the Vulkan SDK or shaderc"); err != nil {
		return err
	}
	for _, in := range stale {
		if err := step(nil, "glslc", "--target-env=vulkan1.0", in, "-o", in+".spv"); err != nil {
			return err
		}
	}
	return nil
}
