package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// DomainInfo is the per-guest view reported by the domain collector.
type DomainInfo struct {
	Name           string
	UUID           string
	State          string
	CPUTimeNs      uint64
	MemoryBytes    uint64
	MaxMemoryBytes uint64
}

type DomainReader struct {
	conn   *ConnManager
	logger *slog.Logger
}

func NewDomainReader(conn *ConnManager, logger *slog.Logger) *DomainReader {
	return &DomainReader{conn: conn, logger: logger}
}

// Read returns every defined domain sorted by name.
func (r *DomainReader) Read(ctx context.Context) ([]DomainInfo, error) {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	doms, _, err := client.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("ConnectListAllDomains: %w", err)
	}
	if len(doms) == 0 {
		return nil, nil
	}

	statsMask := uint32(golibvirt.DomainStatsState | golibvirt.DomainStatsCPUTotal | golibvirt.DomainStatsBalloon)
	records, err := client.ConnectGetAllDomainStats(doms, statsMask, 0)
	if err != nil {
		return nil, fmt.Errorf("ConnectGetAllDomainStats: %w", err)
	}
	r.logger.Debug("libvirt domain stats read", "domains", len(records))
	return parseDomainStats(records), nil
}

func parseDomainStats(records []golibvirt.DomainStatsRecord) []DomainInfo {
	out := make([]DomainInfo, 0, len(records))
	for _, rec := range records {
		info := DomainInfo{
			Name:  rec.Dom.Name,
			UUID:  uuidString(rec.Dom.UUID),
			State: "unknown",
		}
		for _, p := range rec.Params {
			v := asUint64(p.Value.I)
			switch p.Field {
			case "state.state":
				info.State = domainState(v)
			case "cpu.time":
				info.CPUTimeNs = v
			case "balloon.current":
				info.MemoryBytes = v * 1024
			case "balloon.maximum":
				info.MaxMemoryBytes = v * 1024
			}
		}
		if info.MaxMemoryBytes == 0 {
			info.MaxMemoryBytes = info.MemoryBytes
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func asUint64(v any) uint64 {
	switch t := v.(type) {
	case uint64:
		return t
	case uint32:
		return uint64(t)
	case int64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int32:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	default:
		return 0
	}
}

func uuidString(u golibvirt.UUID) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:6], u[6:8], u[8:10], u[10:16])
}

func domainState(v uint64) string {
	switch v {
	case 0:
		return "nostate"
	case 1:
		return "running"
	case 2:
		return "blocked"
	case 3:
		return "paused"
	case 4:
		return "shutdown"
	case 5:
		return "shutoff"
	case 6:
		return "crashed"
	case 7:
		return "pmsuspended"
	default:
		return "unknown"
	}
}
