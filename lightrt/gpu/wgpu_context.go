package gpu

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"golang.org/x/sync/semaphore"
)

// WgpuContextProvider hands out bake contexts over a shared WebGPU device.
//
// WebGPU has no thread-current context, so a background Context pins the entering goroutine to
// its OS thread for the duration of the bracket and the Companion drains the device queue on
// leave. The interactive context is the device itself, serialized by the render-manager lock.
type WgpuContextProvider struct {
	Device *wgpu.Device

	renderLock *semaphore.Weighted

	mu   sync.Mutex
	live int
}

func NewWgpuContextProvider(device *wgpu.Device, renderLock *semaphore.Weighted) *WgpuContextProvider {
	if renderLock == nil {
		renderLock = semaphore.NewWeighted(1)
	}
	return &WgpuContextProvider{Device: device, renderLock: renderLock}
}

// RenderLock is the lock the interactive renderer must hold while reading the light cache.
func (p *WgpuContextProvider) RenderLock() *semaphore.Weighted {
	return p.renderLock
}

type wgpuContext struct {
	label   string
	entered bool
}

func (c *wgpuContext) Label() string { return c.label }

type wgpuCompanion struct {
	label   string
	device  *wgpu.Device
	entered bool
}

func (c *wgpuCompanion) Label() string { return c.label }

func (p *WgpuContextProvider) CreateBackgroundContext() (Context, error) {
	if p.Device == nil {
		return nil, fmt.Errorf("create background context: no device")
	}
	p.mu.Lock()
	p.live++
	n := p.live
	p.mu.Unlock()
	return &wgpuContext{label: fmt.Sprintf("bake context %d", n)}, nil
}

func (p *WgpuContextProvider) DisposeContext(c Context) {
	wc, ok := c.(*wgpuContext)
	if !ok || wc == nil {
		return
	}
	if wc.entered {
		runtime.UnlockOSThread()
		wc.entered = false
	}
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
}

func (p *WgpuContextProvider) EnterContext(c Context) error {
	wc, ok := c.(*wgpuContext)
	if !ok || wc == nil {
		return ErrForeignHandle
	}
	if wc.entered {
		return fmt.Errorf("%s already entered", wc.label)
	}
	runtime.LockOSThread()
	wc.entered = true
	return nil
}

func (p *WgpuContextProvider) LeaveContext(c Context) {
	wc, ok := c.(*wgpuContext)
	if !ok || wc == nil || !wc.entered {
		return
	}
	wc.entered = false
	runtime.UnlockOSThread()
}

func (p *WgpuContextProvider) CreateCompanionContext() (Companion, error) {
	return &wgpuCompanion{label: "bake batch", device: p.Device}, nil
}

func (p *WgpuContextProvider) DiscardCompanionContext(c Companion) {
	wc, ok := c.(*wgpuCompanion)
	if !ok || wc == nil {
		return
	}
	if wc.device != nil {
		wc.device.Poll(true, nil)
	}
	wc.device = nil
}

func (p *WgpuContextProvider) EnterCompanion(c Companion) error {
	wc, ok := c.(*wgpuCompanion)
	if !ok || wc == nil || wc.device == nil {
		return ErrForeignHandle
	}
	wc.entered = true
	return nil
}

func (p *WgpuContextProvider) LeaveCompanion(c Companion) {
	wc, ok := c.(*wgpuCompanion)
	if !ok || wc == nil || !wc.entered {
		return
	}
	// Work recorded in this bracket must land before another context touches the cache.
	if wc.device != nil {
		wc.device.Poll(true, nil)
	}
	wc.entered = false
}

func (p *WgpuContextProvider) EnterInteractive(ctx context.Context) error {
	if err := p.renderLock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrContextBusy, err)
	}
	return nil
}

func (p *WgpuContextProvider) LeaveInteractive() {
	p.renderLock.Release(1)
}
