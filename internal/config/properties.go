package config

import "sort"

// Names of the override values understood by Resolve.
const (
	PropServer = "server"
	PropPort   = "port"
	PropHost   = "host"
)

// Properties holds named override values. A name is either absent or present;
// a present empty value is kept as-is so Resolve can reject it.
//
// The zero value and a nil *Properties are both usable as "no overrides".
type Properties struct {
	values map[string]string
}

func NewProperties() *Properties {
	return &Properties{values: map[string]string{}}
}

func (p *Properties) Set(name, value string) {
	if p.values == nil {
		p.values = map[string]string{}
	}
	p.values[name] = value
}

func (p *Properties) Unset(name string) {
	if p == nil {
		return
	}
	delete(p.values, name)
}

func (p *Properties) Lookup(name string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[name]
	return v, ok
}

func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.values)
}

func (p *Properties) Names() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.values))
	for k := range p.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (p *Properties) Clone() *Properties {
	out := NewProperties()
	if p == nil {
		return out
	}
	for k, v := range p.values {
		out.values[k] = v
	}
	return out
}
