package metadata

type ShaderStageFlags uint32

const (
	ShaderStageVertex ShaderStageFlags = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
)

type DescriptorType int

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	// DescriptorSampledImage is read through a nearest, clamped sampler.
	DescriptorSampledImage
	DescriptorStorageImage
	DescriptorAccelerationStructure
)

func (d DescriptorType) String() string {
	switch d {
	case DescriptorUniformBuffer:
		return "uniform buffer"
	case DescriptorStorageBuffer:
		return "storage buffer"
	case DescriptorSampledImage:
		return "sampled image"
	case DescriptorStorageImage:
		return "storage image"
	case DescriptorAccelerationStructure:
		return "acceleration structure"
	}
	return "unknown"
}

type BindingLayout struct {
	Binding uint32
	Type    DescriptorType
	Stages  ShaderStageFlags
}

type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

// PipelineKind tells backends without a shader compiler which built-in
// program a pipeline stands for.
type PipelineKind int

const (
	PipelineGBuffer PipelineKind = iota
	PipelineLighting
)

type GraphicsPipelineDesc struct {
	Name             string
	Kind             PipelineKind
	VertexCode       []uint32
	FragmentCode     []uint32
	VertexStride     uint32
	VertexAttributes []VertexAttribute
	ColorFormats     []Format
	DepthFormat      Format
	Bindings         []BindingLayout
	PushConstantSize uint32
}

type ComputePipelineDesc struct {
	Name             string
	Kind             PipelineKind
	Code             []uint32
	Bindings         []BindingLayout
	PushConstantSize uint32
	// LocalSize is the workgroup size declared by the shader.
	LocalSize [3]uint32
}

// Binding points one slot of a bind group at a resource.
type Binding struct {
	Binding               uint32
	Type                  DescriptorType
	Buffer                BufferHandle
	Offset                uint64
	Range                 uint64
	Image                 ImageHandle
	ImageLayout           ImageLayout
	AccelerationStructure AccelerationStructureHandle
}
