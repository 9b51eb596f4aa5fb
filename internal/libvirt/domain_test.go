package libvirt

import (
	"reflect"
	"testing"

	golibvirt "github.com/digitalocean/go-libvirt"
)

func param(field string, v any) golibvirt.TypedParam {
	return golibvirt.TypedParam{Field: field, Value: golibvirt.TypedParamValue{I: v}}
}

func TestParseDomainStats(t *testing.T) {
	uuid := golibvirt.UUID{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0, 1, 2, 3, 4, 5, 6, 7}
	records := []golibvirt.DomainStatsRecord{
		{
			Dom: golibvirt.Domain{Name: "web-2", UUID: uuid},
			Params: []golibvirt.TypedParam{
				param("state.state", int32(5)),
			},
		},
		{
			Dom: golibvirt.Domain{Name: "db-1", UUID: uuid},
			Params: []golibvirt.TypedParam{
				param("state.state", int32(1)),
				param("cpu.time", uint64(123456789)),
				param("balloon.current", uint64(2048)),
				param("balloon.maximum", uint64(4096)),
				param("vcpu.current", uint32(2)),
			},
		},
	}

	got := parseDomainStats(records)
	want := []DomainInfo{
		{
			Name:           "db-1",
			UUID:           "12345678-9abc-def0-0001-020304050607",
			State:          "running",
			CPUTimeNs:      123456789,
			MemoryBytes:    2048 * 1024,
			MaxMemoryBytes: 4096 * 1024,
		},
		{
			Name:  "web-2",
			UUID:  "12345678-9abc-def0-0001-020304050607",
			State: "shutoff",
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseDomainStats =\n%+v\nwant\n%+v", got, want)
	}
}

func TestDomainState(t *testing.T) {
	if got := domainState(3); got != "paused" {
		t.Errorf("domainState(3) = %q", got)
	}
	if got := domainState(42); got != "unknown" {
		t.Errorf("domainState(42) = %q", got)
	}
}

func TestAsUint64_Negative(t *testing.T) {
	if got := asUint64(int64(-1)); got != 0 {
		t.Errorf("asUint64(-1) = %d, want 0", got)
	}
	if got := asUint64("text"); got != 0 {
		t.Errorf("asUint64(string) = %d, want 0", got)
	}
}
