package renderer

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Compiled shader file names inside the shader directory.
const (
	GBufferVertexShader   = "gbuffer.vert.spv"
	GBufferFragmentShader = "gbuffer.frag.spv"
	LightingShader        = "lighting.comp.spv"
)

// LightingTileSize is the workgroup edge of the lighting dispatch.
const LightingTileSize = 16

// Formats of the swap dependent targets.
const (
	GBufferFormat = metadata.FormatR32G32B32A32Sfloat
	DepthFormat   = metadata.FormatD32Sfloat
	StorageFormat = metadata.FormatR8G8B8A8Unorm
)

// Lighting bindings, also declared by lighting.comp.
const (
	LightingBindingPosition uint32 = iota
	LightingBindingNormal
	LightingBindingAlbedo
	LightingBindingLights
	LightingBindingOutput
	LightingBindingScene
)

// ShaderSource loads compiled SPIR-V.
type ShaderSource interface {
	LoadShader(path string) ([]uint32, error)
}

// Pipelines holds the raster and lighting pipelines. Without a shader
// source the descriptions carry no code, which only a device with built-in
// programs accepts.
type Pipelines struct {
	GBuffer  *Pipeline
	Lighting *Pipeline

	pool    *ResourcePool
	shaders ShaderSource
	dir     string
}

func NewPipelines(pool *ResourcePool, shaders ShaderSource, dir string) (*Pipelines, error) {
	p := &Pipelines{pool: pool, shaders: shaders, dir: dir}
	gbuffer, lighting, err := p.create()
	if err != nil {
		return nil, err
	}
	p.GBuffer, p.Lighting = gbuffer, lighting
	return p, nil
}

func (p *Pipelines) load(name string) ([]uint32, error) {
	if p.shaders == nil {
		return nil, nil
	}
	code, err := p.shaders.LoadShader(filepath.Join(p.dir, name))
	if err != nil {
		return nil, errors.Wrapf(err, "loading shader %s", name)
	}
	return code, nil
}

func gbufferDesc(vert, frag []uint32) metadata.GraphicsPipelineDesc {
	return metadata.GraphicsPipelineDesc{
		Name:         "gbuffer",
		Kind:         metadata.PipelineGBuffer,
		VertexCode:   vert,
		FragmentCode: frag,
		VertexStride: math.Vertex3DSize,
		VertexAttributes: []metadata.VertexAttribute{
			{Location: 0, Format: metadata.FormatR32G32B32Sfloat, Offset: 0},
			{Location: 1, Format: metadata.FormatR32G32B32Sfloat, Offset: 12},
			{Location: 2, Format: metadata.FormatR32G32Sfloat, Offset: 24},
			{Location: 3, Format: metadata.FormatR32G32B32A32Sfloat, Offset: 32},
		},
		ColorFormats: []metadata.Format{GBufferFormat, GBufferFormat, GBufferFormat},
		DepthFormat:  DepthFormat,
		Bindings: []metadata.BindingLayout{
			{Binding: 0, Type: metadata.DescriptorUniformBuffer, Stages: metadata.ShaderStageVertex},
		},
		PushConstantSize: metadata.MeshPushConstantsSize,
	}
}

func lightingDesc(code []uint32) metadata.ComputePipelineDesc {
	sampled := func(b uint32) metadata.BindingLayout {
		return metadata.BindingLayout{Binding: b, Type: metadata.DescriptorSampledImage, Stages: metadata.ShaderStageCompute}
	}
	return metadata.ComputePipelineDesc{
		Name: "lighting",
		Kind: metadata.PipelineLighting,
		Code: code,
		Bindings: []metadata.BindingLayout{
			sampled(LightingBindingPosition),
			sampled(LightingBindingNormal),
			sampled(LightingBindingAlbedo),
			{Binding: LightingBindingLights, Type: metadata.DescriptorStorageBuffer, Stages: metadata.ShaderStageCompute},
			{Binding: LightingBindingOutput, Type: metadata.DescriptorStorageImage, Stages: metadata.ShaderStageCompute},
			{Binding: LightingBindingScene, Type: metadata.DescriptorAccelerationStructure, Stages: metadata.ShaderStageCompute},
		},
		LocalSize: [3]uint32{LightingTileSize, LightingTileSize, 1},
	}
}

func (p *Pipelines) create() (*Pipeline, *Pipeline, error) {
	vert, err := p.load(GBufferVertexShader)
	if err != nil {
		return nil, nil, err
	}
	frag, err := p.load(GBufferFragmentShader)
	if err != nil {
		return nil, nil, err
	}
	comp, err := p.load(LightingShader)
	if err != nil {
		return nil, nil, err
	}
	gbuffer, err := p.pool.CreateGraphicsPipeline(gbufferDesc(vert, frag))
	if err != nil {
		return nil, nil, err
	}
	lighting, err := p.pool.CreateComputePipeline(lightingDesc(comp))
	if err != nil {
		p.pool.Free(gbuffer.ID)
		return nil, nil, err
	}
	return gbuffer, lighting, nil
}

// Reload recreates both pipelines from the shader directory and retires the
// old ones. When loading or compiling fails the current pipelines stay.
func (p *Pipelines) Reload() error {
	gbuffer, lighting, err := p.create()
	if err != nil {
		core.LogWarn("shader reload failed, keeping current pipelines: %s", err)
		return err
	}
	for _, old := range []*Pipeline{p.GBuffer, p.Lighting} {
		if err := p.pool.Retire(old.ID); err != nil {
			core.LogWarn("retiring pipeline %s: %s", old.ID, err)
		}
	}
	p.GBuffer, p.Lighting = gbuffer, lighting
	return nil
}

// Watches reports whether a changed file is one of the pipeline shaders.
func (p *Pipelines) Watches(path string) bool {
	if p.shaders == nil {
		return false
	}
	switch filepath.Base(path) {
	case GBufferVertexShader, GBufferFragmentShader, LightingShader:
		return filepath.Clean(filepath.Dir(path)) == filepath.Clean(p.dir)
	}
	return false
}

func (p *Pipelines) Destroy() {
	if p.Lighting != nil {
		p.pool.Free(p.Lighting.ID)
	}
	if p.GBuffer != nil {
		p.pool.Free(p.GBuffer.ID)
	}
	p.GBuffer, p.Lighting = nil, nil
}
