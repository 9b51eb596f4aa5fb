package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"kvm-trapper-agent/internal/model"
)

// ErrInvalid marks every configuration error: a malformed port, an empty
// server or identity, or an out-of-range explicit value.
var ErrInvalid = errors.New("invalid trapper configuration")

// Explicit carries values supplied directly by the code constructing a
// trapper. Zero values mean "not supplied".
type Explicit struct {
	Server   string
	Port     int
	Identity string
}

// Defaults is the lowest-priority layer.
type Defaults struct {
	Server   string
	Port     int
	Identity string
}

func DefaultDefaults() Defaults {
	return Defaults{Server: model.DefaultServer, Port: model.DefaultPort}
}

type Resolution struct {
	Endpoint model.Endpoint
	Identity string
}

// Resolve picks each field from explicit, then props, then defaults. A
// present but invalid override is an error; it never falls back to the
// default. props is only read.
func Resolve(explicit Explicit, props *Properties, defaults Defaults) (Resolution, error) {
	server, err := resolveText(PropServer, explicit.Server, props, defaults.Server)
	if err != nil {
		return Resolution{}, err
	}
	port, err := resolvePort(explicit.Port, props, defaults.Port)
	if err != nil {
		return Resolution{}, err
	}
	identity, err := resolveText(PropHost, explicit.Identity, props, defaults.Identity)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Endpoint: model.Endpoint{Host: server, Port: port},
		Identity: identity,
	}, nil
}

func resolveText(name, explicit string, props *Properties, fallback string) (string, error) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, nil
	}
	if raw, ok := props.Lookup(name); ok {
		v := strings.TrimSpace(raw)
		if v == "" {
			return "", fmt.Errorf("%w: %s override is empty", ErrInvalid, name)
		}
		return v, nil
	}
	if v := strings.TrimSpace(fallback); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: no %s configured", ErrInvalid, name)
}

func resolvePort(explicit int, props *Properties, fallback int) (int, error) {
	if explicit != 0 {
		if !model.ValidPort(explicit) {
			return 0, fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalid, explicit)
		}
		return explicit, nil
	}
	if raw, ok := props.Lookup(PropPort); ok {
		p, err := ParsePort(raw)
		if err != nil {
			return 0, err
		}
		return p, nil
	}
	if !model.ValidPort(fallback) {
		return 0, fmt.Errorf("%w: default port %d out of range 1-65535", ErrInvalid, fallback)
	}
	return fallback, nil
}

// ParsePort validates a textual port value.
func ParsePort(raw string) (int, error) {
	v := strings.TrimSpace(raw)
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s override %q is not an integer", ErrInvalid, PropPort, raw)
	}
	if !model.ValidPort(p) {
		return 0, fmt.Errorf("%w: %s override %d out of range 1-65535", ErrInvalid, PropPort, p)
	}
	return p, nil
}
