package collector

import (
	"context"
	"strconv"

	"kvm-trapper-agent/internal/libvirt"
	"kvm-trapper-agent/internal/model"
)

type NodeReader interface {
	Read(ctx context.Context) (libvirt.NodeInfo, error)
}

// NodeCollector reports hypervisor facts read through libvirt.
type NodeCollector struct {
	reader NodeReader
}

func NewNodeCollector(reader NodeReader) *NodeCollector {
	return &NodeCollector{reader: reader}
}

func (c *NodeCollector) Name() string { return "libvirt" }

func (c *NodeCollector) Collect(ctx context.Context) ([]model.Sample, error) {
	info, err := c.reader.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.Sample{
		model.NewSample("kvm.node.cpus", strconv.Itoa(int(info.CPUs))),
		model.NewSample("kvm.node.mhz", strconv.Itoa(int(info.MHz))),
		model.NewSample("kvm.node.memory.total", strconv.FormatUint(info.MemoryBytes, 10)),
		model.NewSample("kvm.domains.total", strconv.Itoa(info.Domains)),
		model.NewSample("kvm.domains.active", strconv.Itoa(info.ActiveDomains)),
	}
	if info.Hostname != "" {
		out = append(out, model.NewSample("kvm.node.hostname", info.Hostname))
	}
	if info.Model != "" {
		out = append(out, model.NewSample("kvm.node.model", info.Model))
	}
	if info.LibvirtVersion != "" {
		out = append(out, model.NewSample("kvm.libvirt.version", info.LibvirtVersion))
	}
	return out, nil
}
