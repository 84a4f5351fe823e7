package main

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

type gpuState struct {
	window  *glfw.Window
	surface *wgpu.Surface
	adapter *wgpu.Adapter
	device  *wgpu.Device
}

// createGpuState opens a hidden window so the adapter is picked for a presentable surface,
// then requests the device. It must run on the main thread.
func createGpuState() (*gpuState, error) {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("failed to init glfw: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Visible, glfw.False)
	win, err := glfw.CreateWindow(64, 64, "lightbake", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()
	surface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(win))

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		surface.Release()
		win.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Bake Device",
	})
	if err != nil {
		adapter.Release()
		surface.Release()
		win.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("failed to request device: %w", err)
	}

	return &gpuState{
		window:  win,
		surface: surface,
		adapter: adapter,
		device:  device,
	}, nil
}

func (s *gpuState) release() {
	s.device.Release()
	s.adapter.Release()
	s.surface.Release()
	s.window.Destroy()
	glfw.Terminate()
	runtime.UnlockOSThread()
}
