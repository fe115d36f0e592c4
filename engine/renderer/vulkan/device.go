package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
)

const portabilitySubset = "VK_KHR_portability_subset"

// VulkanDevice is the selected GPU with its single graphics, compute and
// present queue.
type VulkanDevice struct {
	PhysicalDevice   vk.PhysicalDevice
	LogicalDevice    vk.Device
	SwapchainSupport VulkanSwapchainSupportInfo

	QueueIndex uint32
	Queue      vk.Queue

	CommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	Extensions []string
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

type VulkanPhysicalDeviceRequirements struct {
	DeviceExtensionNames []string
}

// DeviceCreate selects a physical device and creates the logical device,
// its queue and the command pool.
func DeviceCreate(context *VulkanContext) error {
	device, err := SelectPhysicalDevice(context)
	if err != nil {
		return err
	}
	context.Device = device

	core.LogInfo("Creating logical device...")
	priorities := []float32{1.0}
	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: device.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: priorities,
	}}

	extensions := []string{vk.KhrSwapchainExtensionName}
	for _, name := range device.Extensions {
		if name == portabilitySubset {
			core.LogInfo("Adding required extension '%s'.", portabilitySubset)
			extensions = append(extensions, portabilitySubset)
		}
	}

	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}
	var logical vk.Device
	if err := resultError(vk.CreateDevice(device.PhysicalDevice, &info, context.Allocator, &logical), "creating logical device"); err != nil {
		return err
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	var queue vk.Queue
	vk.GetDeviceQueue(logical, device.QueueIndex, 0, &queue)
	device.Queue = queue

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: device.QueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := resultError(vk.CreateCommandPool(logical, &poolInfo, context.Allocator, &pool), "creating command pool"); err != nil {
		return err
	}
	device.CommandPool = pool
	core.LogInfo("Command pool created.")
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	if device == nil || device.LogicalDevice == nil {
		return
	}
	device.Queue = nil

	core.LogInfo("Destroying command pool...")
	if device.CommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(device.LogicalDevice, device.CommandPool, context.Allocator)
		device.CommandPool = vk.NullCommandPool
	}

	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(device.LogicalDevice, context.Allocator)
	device.LogicalDevice = nil
	device.PhysicalDevice = nil
	device.SwapchainSupport = VulkanSwapchainSupportInfo{}
}

// DeviceQuerySwapchainSupport fills info with what surface supports on
// physicalDevice.
func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, info *VulkanSwapchainSupportInfo) error {
	var caps vk.SurfaceCapabilities
	if err := resultError(vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &caps), "querying surface capabilities"); err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	info.Capabilities = caps

	var formatCount uint32
	if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil), "querying surface formats"); err != nil {
		return err
	}
	info.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount > 0 {
		if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, info.Formats), "querying surface formats"); err != nil {
			return err
		}
		for i := range info.Formats {
			info.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil), "querying present modes"); err != nil {
		return err
	}
	info.PresentModes = make([]vk.PresentMode, modeCount)
	if modeCount > 0 {
		if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, info.PresentModes), "querying present modes"); err != nil {
			return err
		}
	}
	return nil
}

// SelectPhysicalDevice returns the first device meeting the requirements.
func SelectPhysicalDevice(context *VulkanContext) (*VulkanDevice, error) {
	var count uint32
	if err := resultError(vk.EnumeratePhysicalDevices(context.Instance, &count, nil), "enumerating physical devices"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.Wrap(core.ErrMissingQueueFamily, "no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, count)
	if err := resultError(vk.EnumeratePhysicalDevices(context.Instance, &count, physicalDevices), "enumerating physical devices"); err != nil {
		return nil, err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}

	for _, pd := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()
		properties.Limits.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(pd, &features)
		features.Deref()

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
		memory.Deref()

		device := &VulkanDevice{
			PhysicalDevice: pd,
			Properties:     properties,
			Features:       features,
			Memory:         memory,
		}
		name := fixedString(properties.DeviceName[:])
		if !PhysicalDeviceMeetsRequirements(device, context.Surface, &requirements) {
			core.LogInfo("Skipping device '%s'.", name)
			continue
		}

		core.LogInfo("Selected device: '%s' (%s).", name, deviceTypeName(properties.DeviceType))
		core.LogInfo("GPU Driver version: %d.%d.%d",
			vk.Version(properties.DriverVersion).Major(),
			vk.Version(properties.DriverVersion).Minor(),
			vk.Version(properties.DriverVersion).Patch())
		core.LogInfo("Vulkan API version: %d.%d.%d",
			vk.Version(properties.ApiVersion).Major(),
			vk.Version(properties.ApiVersion).Minor(),
			vk.Version(properties.ApiVersion).Patch())
		for j := uint32(0); j < memory.MemoryHeapCount; j++ {
			heap := memory.MemoryHeaps[j]
			heap.Deref()
			gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
			if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
				core.LogInfo("Local GPU memory: %.2f GiB", gib)
			} else {
				core.LogInfo("Shared System memory: %.2f GiB", gib)
			}
		}
		return device, nil
	}
	return nil, errors.Wrap(core.ErrMissingQueueFamily, "no physical device has a graphics, compute and present queue family with swapchain support")
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	}
	return "unknown"
}

// PhysicalDeviceMeetsRequirements looks for one queue family that does
// graphics, compute and present, then checks extensions and swapchain
// support. On success it fills the queue index, the extension list and the
// swapchain support of device.
func PhysicalDeviceMeetsRequirements(device *VulkanDevice, surface vk.Surface, requirements *VulkanPhysicalDeviceRequirements) bool {
	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device.PhysicalDevice, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device.PhysicalDevice, &familyCount, families)

	found := false
	for i := range families {
		families[i].Deref()
		flags := families[i].QueueFlags
		graphics := flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		compute := flags&vk.QueueFlags(vk.QueueComputeBit) != 0
		var present vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device.PhysicalDevice, uint32(i), surface, &present); res != vk.Success {
			return false
		}
		core.LogDebug("queue family %d: graphics %t, compute %t, present %t", i, graphics, compute, present == vk.True)
		if graphics && compute && present == vk.True {
			device.QueueIndex = uint32(i)
			found = true
			break
		}
	}
	if !found {
		return false
	}

	var extCount uint32
	if res := vk.EnumerateDeviceExtensionProperties(device.PhysicalDevice, "", &extCount, nil); res != vk.Success {
		return false
	}
	available := make([]vk.ExtensionProperties, extCount)
	if extCount > 0 {
		if res := vk.EnumerateDeviceExtensionProperties(device.PhysicalDevice, "", &extCount, available); res != vk.Success {
			return false
		}
	}
	device.Extensions = device.Extensions[:0]
	for i := range available {
		available[i].Deref()
		device.Extensions = append(device.Extensions, fixedString(available[i].ExtensionName[:]))
	}
	for _, required := range requirements.DeviceExtensionNames {
		if !containsString(device.Extensions, fixedString([]byte(required))) {
			core.LogInfo("Required extension not found: '%s', skipping device.", required)
			return false
		}
	}

	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, surface, &device.SwapchainSupport); err != nil {
		core.LogWarn(err.Error())
		return false
	}
	if len(device.SwapchainSupport.Formats) == 0 || len(device.SwapchainSupport.PresentModes) == 0 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
