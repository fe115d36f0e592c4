// Package reference implements the renderer device contract on the CPU.
//
// Command buffers are recorded, validated against the synchronisation rules a
// real GPU imposes, and executed in submission order. Executing a submission
// rasterises the G-buffers, runs the lighting program with shadow rays
// against real bounding volume hierarchies and blits the result into
// swapchain images, so a frame can be inspected or written to disk.
package reference

import (
	"fmt"
	stdimage "image"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type Config struct {
	// Strict makes the call that detects a violation fail with ErrValidation.
	Strict bool
	// MaxPending is how many submissions may queue before the oldest runs.
	MaxPending int
	// SwapchainImages is the number of presentable images.
	SwapchainImages int
	// LightSamples limits the lights evaluated per pixel; 0 evaluates all.
	LightSamples int
}

func DefaultConfig() Config {
	return Config{
		MaxPending:      4,
		SwapchainImages: 3,
	}
}

type ViolationKind int

const (
	ViolationFence ViolationKind = iota
	ViolationCommandBuffer
	ViolationHostWrite
	ViolationSemaphore
	ViolationLayout
	ViolationHazard
	ViolationCrossSubmission
	ViolationBuild
	ViolationLifetime
	ViolationUsage
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationFence:
		return "fence"
	case ViolationCommandBuffer:
		return "command buffer"
	case ViolationHostWrite:
		return "host write"
	case ViolationSemaphore:
		return "semaphore"
	case ViolationLayout:
		return "layout"
	case ViolationHazard:
		return "hazard"
	case ViolationCrossSubmission:
		return "cross submission"
	case ViolationBuild:
		return "build"
	case ViolationLifetime:
		return "lifetime"
	case ViolationUsage:
		return "usage"
	}
	return "unknown"
}

type Violation struct {
	Kind    ViolationKind
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

type Stats struct {
	Submits    int
	Executed   int
	Draws      int
	Dispatches int
	Blits      int
	Presents   int
	// Builds counts bottom-level builds.
	Builds      int
	TopBuilds   int
	TopUpdates  int
	Allocations int
}

// Device is a CPU implementation of renderer.Device. It is safe for use from
// several goroutines but the renderer only drives it from one.
type Device struct {
	mu  sync.Mutex
	cfg Config

	next uint64

	buffers    map[metadata.BufferHandle]*buffer
	images     map[metadata.ImageHandle]*image
	structures map[metadata.AccelerationStructureHandle]*structure
	byAddress  map[uint64]*structure
	pipelines  map[metadata.PipelineHandle]*pipeline
	groups     map[metadata.BindGroupHandle]*bindGroup
	fences     map[metadata.FenceHandle]*fence
	semaphores map[metadata.SemaphoreHandle]*semaphore
	commands   map[*CommandBuffer]bool

	swapchain *swapchain

	// queue holds work submitted but not executed, in order.
	queue []queued
	// inflight holds submissions whose completion the host has not observed.
	inflight []*submission
	seq      uint64
	tick     uint64

	violations []Violation
	pendingErr error
	stats      Stats
	presented  []PresentRecord
	lastFrame  *stdimage.RGBA
	surface    metadata.Extent2D

	failAfter    int
	acquireFault map[int]metadata.SwapchainStatus
	presentFault map[int]metadata.SwapchainStatus
	acquires     int
	presents     int
	lost         bool

	// jobs shades lighting dispatches; started on the first one.
	jobs *core.JobSystem
}

// shadeRows is how many rows of a dispatch one job shades.
const shadeRows = 16

func (d *Device) workers() *core.JobSystem {
	if d.jobs == nil {
		n := runtime.NumCPU()
		js, err := core.NewJobSystem(n, 2*n)
		if err != nil {
			core.LogFatal("reference device: %s", err)
		}
		d.jobs = js
	}
	return d.jobs
}

func New(cfg Config) *Device {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultConfig().MaxPending
	}
	if cfg.SwapchainImages <= 0 {
		cfg.SwapchainImages = DefaultConfig().SwapchainImages
	}
	return &Device{
		cfg:          cfg,
		buffers:      make(map[metadata.BufferHandle]*buffer),
		images:       make(map[metadata.ImageHandle]*image),
		structures:   make(map[metadata.AccelerationStructureHandle]*structure),
		byAddress:    make(map[uint64]*structure),
		pipelines:    make(map[metadata.PipelineHandle]*pipeline),
		groups:       make(map[metadata.BindGroupHandle]*bindGroup),
		fences:       make(map[metadata.FenceHandle]*fence),
		semaphores:   make(map[metadata.SemaphoreHandle]*semaphore),
		commands:     make(map[*CommandBuffer]bool),
		failAfter:    -1,
		acquireFault: make(map[int]metadata.SwapchainStatus),
		presentFault: make(map[int]metadata.SwapchainStatus),
	}
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

// violate records a violation. In strict mode the returned error must be
// handed back to the caller; otherwise it is nil.
func (d *Device) violate(kind ViolationKind, format string, args ...interface{}) error {
	v := Violation{Kind: kind, Message: fmt.Sprintf(format, args...)}
	d.violations = append(d.violations, v)
	core.LogWarn("reference device: %s", v)
	if !d.cfg.Strict {
		return nil
	}
	return errors.Wrap(core.ErrValidation, v.String())
}

// Violations returns everything detected so far.
func (d *Device) Violations() []Violation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Violation(nil), d.violations...)
}

func (d *Device) ClearViolations() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.violations = nil
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// FailAllocationAfter lets n more allocations succeed, then fails every
// following one. A negative n disables the fault.
func (d *Device) FailAllocationAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAfter = n
}

// InjectAcquireStatus makes the acquire with the given zero based ordinal
// report status. An out of date acquire does not signal its semaphore.
func (d *Device) InjectAcquireStatus(acquire int, status metadata.SwapchainStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireFault[acquire] = status
}

// InjectPresentStatus makes the present with the given zero based ordinal
// report status.
func (d *Device) InjectPresentStatus(present int, status metadata.SwapchainStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentFault[present] = status
}

// LoseDevice makes every following queue operation fail with ErrDeviceLost.
func (d *Device) LoseDevice() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

func (d *Device) allocate(what string) error {
	if d.lost {
		return errors.Wrap(core.ErrDeviceLost, what)
	}
	if d.failAfter == 0 {
		return errors.Wrapf(core.ErrAllocationFailed, "%s: injected failure", what)
	}
	if d.failAfter > 0 {
		d.failAfter--
	}
	d.stats.Allocations++
	return nil
}

// Shutdown waits for outstanding work and reports objects still alive.
func (d *Device) Shutdown() error {
	if err := d.WaitIdle(); err != nil && errors.Cause(err) != core.ErrDeviceLost {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.jobs != nil {
		_ = d.jobs.Shutdown()
		d.jobs = nil
	}
	d.destroySwapchain()
	leaked := len(d.buffers) + len(d.images) + len(d.structures) + len(d.pipelines) + len(d.groups)
	if leaked > 0 {
		core.LogWarn("reference device: %d objects still alive at shutdown", leaked)
	}
	return nil
}

// Live reports how many device objects exist, swapchain images excluded.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.buffers) + len(d.structures) + len(d.pipelines) + len(d.groups)
	for _, img := range d.images {
		if !img.swap {
			n++
		}
	}
	return n
}
