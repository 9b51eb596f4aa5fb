package collector

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"kvm-trapper-agent/internal/model"
)

// HostCollector reports operating-system level metrics of the local machine
// under Zabbix agent style keys.
type HostCollector struct {
	loadAvg  func(context.Context) (*load.AvgStat, error)
	virtMem  func(context.Context) (*mem.VirtualMemoryStat, error)
	uptime   func(context.Context) (uint64, error)
	cpuCount func(context.Context, bool) (int, error)
	cpuPct   func(context.Context) ([]float64, error)
}

func NewHostCollector() *HostCollector {
	return &HostCollector{
		loadAvg:  load.AvgWithContext,
		virtMem:  mem.VirtualMemoryWithContext,
		uptime:   host.UptimeWithContext,
		cpuCount: cpu.CountsWithContext,
		cpuPct: func(ctx context.Context) ([]float64, error) {
			return cpu.PercentWithContext(ctx, 0, false)
		},
	}
}

func (c *HostCollector) Name() string { return "host" }

func (c *HostCollector) Collect(ctx context.Context) ([]model.Sample, error) {
	var out []model.Sample

	avg, err := c.loadAvg(ctx)
	if err != nil {
		return nil, fmt.Errorf("load average: %w", err)
	}
	out = append(out,
		model.NewSample("system.cpu.load[all,avg1]", formatFloat(avg.Load1)),
		model.NewSample("system.cpu.load[all,avg5]", formatFloat(avg.Load5)),
		model.NewSample("system.cpu.load[all,avg15]", formatFloat(avg.Load15)),
	)

	vm, err := c.virtMem(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	out = append(out,
		model.NewSample("vm.memory.size[total]", strconv.FormatUint(vm.Total, 10)),
		model.NewSample("vm.memory.size[available]", strconv.FormatUint(vm.Available, 10)),
		model.NewSample("vm.memory.size[used]", strconv.FormatUint(vm.Used, 10)),
		model.NewSample("vm.memory.utilization", formatFloat(vm.UsedPercent)),
	)

	up, err := c.uptime(ctx)
	if err != nil {
		return nil, fmt.Errorf("uptime: %w", err)
	}
	out = append(out, model.NewSample("system.uptime", strconv.FormatUint(up, 10)))

	if n, err := c.cpuCount(ctx, true); err == nil {
		out = append(out, model.NewSample("system.cpu.num", strconv.Itoa(n)))
	}
	if pct, err := c.cpuPct(ctx); err == nil && len(pct) > 0 {
		out = append(out, model.NewSample("system.cpu.util", formatFloat(pct[0])))
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
