package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// NodeInfo is a point-in-time view of a hypervisor host.
type NodeInfo struct {
	Hostname       string
	Model          string
	MemoryBytes    uint64
	CPUs           int32
	MHz            int32
	Domains        int
	ActiveDomains  int
	LibvirtVersion string
}

type NodeReader struct {
	conn   *ConnManager
	logger *slog.Logger
}

func NewNodeReader(conn *ConnManager, logger *slog.Logger) *NodeReader {
	return &NodeReader{conn: conn, logger: logger}
}

func (r *NodeReader) Read(ctx context.Context) (NodeInfo, error) {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return NodeInfo{}, err
	}

	rModel, memoryKiB, cpus, mhz, _, _, _, _, err := client.NodeGetInfo()
	if err != nil {
		return NodeInfo{}, fmt.Errorf("NodeGetInfo: %w", err)
	}
	info := NodeInfo{
		Model:       modelString(rModel),
		MemoryBytes: memoryKiB * 1024,
		CPUs:        cpus,
		MHz:         mhz,
	}

	if info.Hostname, err = client.ConnectGetHostname(); err != nil {
		return NodeInfo{}, fmt.Errorf("ConnectGetHostname: %w", err)
	}

	all, _, err := client.ConnectListAllDomains(1, 0)
	if err != nil {
		return NodeInfo{}, fmt.Errorf("ConnectListAllDomains: %w", err)
	}
	active, _, err := client.ConnectListAllDomains(1, golibvirt.ConnectListDomainsActive)
	if err != nil {
		return NodeInfo{}, fmt.Errorf("ConnectListAllDomains(active): %w", err)
	}
	info.Domains = len(all)
	info.ActiveDomains = len(active)

	if v, vErr := client.Version(); vErr == nil {
		info.LibvirtVersion = v
	} else {
		r.logger.Debug("libvirt version lookup failed", "error", vErr)
	}
	return info, nil
}

// modelString converts libvirt's NUL-padded [32]int8 CPU model.
func modelString(raw [32]int8) string {
	var b strings.Builder
	for _, c := range raw {
		if c == 0 {
			break
		}
		b.WriteByte(byte(c))
	}
	return b.String()
}
