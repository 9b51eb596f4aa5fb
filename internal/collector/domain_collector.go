package collector

import (
	"context"
	"strconv"

	"kvm-trapper-agent/internal/libvirt"
	"kvm-trapper-agent/internal/model"
)

type DomainReader interface {
	Read(ctx context.Context) ([]libvirt.DomainInfo, error)
}

// DomainCollector reports one group of samples per libvirt guest, keyed by
// domain name.
type DomainCollector struct {
	reader DomainReader
}

func NewDomainCollector(reader DomainReader) *DomainCollector {
	return &DomainCollector{reader: reader}
}

func (c *DomainCollector) Name() string { return "domains" }

func (c *DomainCollector) Collect(ctx context.Context) ([]model.Sample, error) {
	domains, err := c.reader.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Sample, 0, len(domains)*4)
	for _, d := range domains {
		out = append(out,
			model.NewSample("kvm.domain.state["+d.Name+"]", d.State),
			model.NewSample("kvm.domain.cpu.time["+d.Name+"]", strconv.FormatUint(d.CPUTimeNs, 10)),
			model.NewSample("kvm.domain.memory[current,"+d.Name+"]", strconv.FormatUint(d.MemoryBytes, 10)),
			model.NewSample("kvm.domain.memory[max,"+d.Name+"]", strconv.FormatUint(d.MaxMemoryBytes, 10)),
		)
	}
	return out, nil
}
