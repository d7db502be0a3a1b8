package rtpod

import (
	"testing"
)

func TestTrapFault_idleNotHandled(t *testing.T) {
	p, _ := newTestPod(t, 1)
	if p.TrapFault(&FaultInfo{Trap: 14}) {
		t.Fatal("a fault in the idle context must propagate to the host")
	}
}

func TestTrapFault_suspendsKernelThread(t *testing.T) {
	p, _ := newTestPod(t, 1)

	a := startThread(t, p, "A", 10, 0, 0)
	if p.CurrentThread() != a {
		t.Fatal("setup: A must be current")
	}

	if !p.TrapFault(&FaultInfo{Trap: 14, PC: 0xdead}) {
		t.Fatal("a kernel-thread fault must be absorbed")
	}
	if !a.State().test(Suspended) {
		t.Fatalf("want SUSP, got %s", a.State())
	}
	if !p.CurrentThread().State().test(Root) {
		t.Fatal("the faulting thread must have been scheduled out")
	}
	checkInvariants(t, p)
}

func TestTrapFault_initializesShadowFPU(t *testing.T) {
	bridge := &recordingBridge{}
	p, _ := newTestPod(t, 1, WithShadowBridge(bridge), WithFPU(true))

	a := initThread(t, p, "A", 10, Shadow)
	if err := p.StartThread(a, 0, 0, AllCPUs, nil, nil); err != nil {
		t.Fatal(err)
	}
	p.ResumeThread(a, Dormant)
	p.Schedule()
	if p.CurrentThread() != a {
		t.Fatal("setup: shadow must be current")
	}

	if !p.TrapFault(&FaultInfo{FPUFault: true}) {
		t.Fatal("first FPU use must be absorbed")
	}
	if a.Arch().FPU == nil {
		t.Fatal("FPU context must have been initialized")
	}

	// A second FPU fault is a real error: the shadow relaxes instead.
	if p.TrapFault(&FaultInfo{FPUFault: true, UserMode: true, Notify: true}) {
		t.Fatal("a repeated FPU fault must propagate")
	}
	if bridge.relaxed != 1 {
		t.Fatalf("want one relax, got %d", bridge.relaxed)
	}
}

func TestTrapFault_shadowPageFaultRelaxes(t *testing.T) {
	bridge := &recordingBridge{}
	p, _ := newTestPod(t, 1, WithShadowBridge(bridge))

	a := initThread(t, p, "A", 10, Shadow)
	if err := p.StartThread(a, 0, 0, AllCPUs, nil, nil); err != nil {
		t.Fatal(err)
	}
	p.ResumeThread(a, Dormant)
	p.Schedule()

	if p.TrapFault(&FaultInfo{PageFault: true, UserMode: true, Notify: true}) {
		t.Fatal("shadow faults propagate to the host")
	}
	if bridge.relaxed != 1 {
		t.Fatal("shadow must relax into secondary mode")
	}
	if a.Stat.PF != 1 {
		t.Fatalf("page fault counter: want 1, got %d", a.Stat.PF)
	}
}

func TestTrapFault_inactivePod(t *testing.T) {
	arch := NewSimArch(1)
	p, err := NewPod(WithArch(arch))
	if err != nil {
		t.Fatal(err)
	}
	p.Shutdown(0)
	if p.TrapFault(&FaultInfo{}) {
		t.Fatal("an inactive pod handles nothing")
	}
}
