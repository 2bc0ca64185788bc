package metrics

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemSampler reads host resource usage for performance snapshots.
// All reads are best-effort: a probe that fails leaves its fields zero.
type SystemSampler struct{}

// NewSystemSampler creates a sampler.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{}
}

// Sample fills the system portion of a Performance snapshot.
func (s *SystemSampler) Sample(p *Performance) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		p.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		p.MemUsedMB = float64(vm.Used) / 1024 / 1024
		p.MemPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		p.LoadAvg1 = avg.Load1
	}
}
