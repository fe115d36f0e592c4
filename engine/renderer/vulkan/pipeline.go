package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * @brief Holds a Vulkan pipeline, its layout and the layout of its single
 * descriptor set.
 */
type VulkanPipeline struct {
	Name           string
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
	SetLayout      vk.DescriptorSetLayout
	BindPoint      vk.PipelineBindPoint
	Bindings       []metadata.BindingLayout

	/** @brief The stages of the push constant range, if any. */
	PushStages vk.ShaderStageFlags
	PushSize   uint32
}

func createSetLayout(context *VulkanContext, bindings []metadata.BindingLayout) (vk.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vkDescriptorType(b.Type),
			DescriptorCount: 1,
			StageFlags:      vkShaderStages(b.Stages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	var layout vk.DescriptorSetLayout
	if err := resultError(vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &info, context.Allocator, &layout), "creating descriptor set layout"); err != nil {
		return vk.DescriptorSetLayout(vk.NullHandle), err
	}
	return layout, nil
}

// createLayout makes the set layout and pipeline layout of p.
func (p *VulkanPipeline) createLayout(context *VulkanContext, pushStages vk.ShaderStageFlags) error {
	setLayout, err := createSetLayout(context, p.Bindings)
	if err != nil {
		return err
	}
	p.SetLayout = setLayout

	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{setLayout},
	}
	if p.PushSize > 0 {
		if p.PushSize%4 != 0 || p.PushSize > context.Device.Properties.Limits.MaxPushConstantsSize {
			return errors.Wrapf(core.ErrValidation, "push constant size %d", p.PushSize)
		}
		p.PushStages = pushStages
		info.PushConstantRangeCount = 1
		info.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: pushStages,
			Offset:     0,
			Size:       p.PushSize,
		}}
	}
	var layout vk.PipelineLayout
	if err := resultError(vk.CreatePipelineLayout(context.Device.LogicalDevice, &info, context.Allocator, &layout), "creating pipeline layout for %s", p.Name); err != nil {
		return err
	}
	p.PipelineLayout = layout
	return nil
}

func vertexAttributes(attrs []metadata.VertexAttribute) []vk.VertexInputAttributeDescription {
	out := make([]vk.VertexInputAttributeDescription, len(attrs))
	for i, a := range attrs {
		out[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   vkFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	return out
}

// NewGraphicsPipeline builds a triangle list pipeline with depth test and
// write, no culling and no blending. Viewport and scissor are dynamic.
func NewGraphicsPipeline(context *VulkanContext, desc metadata.GraphicsPipelineDesc, renderpass *VulkanRenderpass) (*VulkanPipeline, error) {
	p := &VulkanPipeline{
		Name:      desc.Name,
		BindPoint: vk.PipelineBindPointGraphics,
		Bindings:  desc.Bindings,
		PushSize:  desc.PushConstantSize,
	}
	if err := p.createLayout(context, vk.ShaderStageFlags(vk.ShaderStageVertexBit)); err != nil {
		p.Destroy(context)
		return nil, err
	}

	vert, err := NewShaderModule(context, desc.Name+".vert", desc.VertexCode, vk.ShaderStageVertexBit)
	if err != nil {
		p.Destroy(context)
		return nil, err
	}
	defer vert.Destroy(context)
	frag, err := NewShaderModule(context, desc.Name+".frag", desc.FragmentCode, vk.ShaderStageFragmentBit)
	if err != nil {
		p.Destroy(context)
		return nil, err
	}
	defer frag.Destroy(context)

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		StencilTestEnable: vk.False,
	}
	if desc.DepthFormat != metadata.FormatUndefined {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(desc.ColorFormats))
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable: vk.False,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
		}
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	attributes := vertexAttributes(desc.VertexAttributes)
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          2,
		PStages:             []vk.PipelineShaderStageCreateInfo{vert.ShaderStageCreateInfo, frag.ShaderStageCreateInfo},
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              p.PipelineLayout,
		RenderPass:          renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	err = context.locks.SafeCall(PipelineManagement, func() error {
		return resultError(vk.CreateGraphicsPipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{info}, context.Allocator, pipelines), "creating graphics pipeline %s", desc.Name)
	})
	if err != nil {
		p.Destroy(context)
		return nil, err
	}
	p.Handle = pipelines[0]
	core.LogDebug("Graphics pipeline %s created.", desc.Name)
	return p, nil
}

func NewComputePipeline(context *VulkanContext, desc metadata.ComputePipelineDesc) (*VulkanPipeline, error) {
	p := &VulkanPipeline{
		Name:      desc.Name,
		BindPoint: vk.PipelineBindPointCompute,
		Bindings:  desc.Bindings,
		PushSize:  desc.PushConstantSize,
	}
	if err := p.createLayout(context, vk.ShaderStageFlags(vk.ShaderStageComputeBit)); err != nil {
		p.Destroy(context)
		return nil, err
	}
	comp, err := NewShaderModule(context, desc.Name, desc.Code, vk.ShaderStageComputeBit)
	if err != nil {
		p.Destroy(context)
		return nil, err
	}
	defer comp.Destroy(context)

	info := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              comp.ShaderStageCreateInfo,
		Layout:             p.PipelineLayout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	err = context.locks.SafeCall(PipelineManagement, func() error {
		return resultError(vk.CreateComputePipelines(context.Device.LogicalDevice, vk.NullPipelineCache, 1,
			[]vk.ComputePipelineCreateInfo{info}, context.Allocator, pipelines), "creating compute pipeline %s", desc.Name)
	})
	if err != nil {
		p.Destroy(context)
		return nil, err
	}
	p.Handle = pipelines[0]
	core.LogDebug("Compute pipeline %s created.", desc.Name)
	return p, nil
}

func (p *VulkanPipeline) Destroy(context *VulkanContext) {
	_ = context.locks.SafeCall(PipelineManagement, func() error {
		dev := context.Device.LogicalDevice
		if p.Handle != vk.NullPipeline {
			vk.DestroyPipeline(dev, p.Handle, context.Allocator)
			p.Handle = vk.NullPipeline
		}
		if p.PipelineLayout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(dev, p.PipelineLayout, context.Allocator)
			p.PipelineLayout = vk.NullPipelineLayout
		}
		if p.SetLayout != vk.DescriptorSetLayout(vk.NullHandle) {
			vk.DestroyDescriptorSetLayout(dev, p.SetLayout, context.Allocator)
			p.SetLayout = vk.DescriptorSetLayout(vk.NullHandle)
		}
		return nil
	})
}

func (p *VulkanPipeline) binding(n uint32) (metadata.BindingLayout, bool) {
	for _, b := range p.Bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return metadata.BindingLayout{}, false
}

func (d *Device) CreateGraphicsPipeline(desc metadata.GraphicsPipelineDesc) (metadata.PipelineHandle, error) {
	key, err := pipelineKey(desc.ColorFormats, desc.DepthFormat)
	if err != nil {
		return metadata.InvalidHandle, err
	}
	rp, err := d.renderpass(key)
	if err != nil {
		return metadata.InvalidHandle, err
	}
	p, err := NewGraphicsPipeline(d.context, desc, rp)
	if err != nil {
		return metadata.InvalidHandle, err
	}
	return d.addPipeline(p), nil
}

func (d *Device) CreateComputePipeline(desc metadata.ComputePipelineDesc) (metadata.PipelineHandle, error) {
	p, err := NewComputePipeline(d.context, desc)
	if err != nil {
		return metadata.InvalidHandle, err
	}
	return d.addPipeline(p), nil
}

func (d *Device) addPipeline(p *VulkanPipeline) metadata.PipelineHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.PipelineHandle(d.nextHandle())
	d.pipelines[h] = p
	return h
}

func (d *Device) DestroyPipeline(h metadata.PipelineHandle) {
	d.mu.Lock()
	p, ok := d.pipelines[h]
	delete(d.pipelines, h)
	d.mu.Unlock()
	if ok {
		p.Destroy(d.context)
	}
}

func (d *Device) pipeline(h metadata.PipelineHandle) (*VulkanPipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pipelines[h]
	if !ok {
		return nil, errors.Wrapf(core.ErrValidation, "unknown pipeline %d", h)
	}
	return p, nil
}
