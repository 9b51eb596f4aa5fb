package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultServer = "localhost"
	DefaultPort   = 10051
)

// Endpoint is the resolved collector address a trapper connects to.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Address()
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("endpoint host is empty")
	}
	if !ValidPort(e.Port) {
		return fmt.Errorf("endpoint port %d out of range 1-65535", e.Port)
	}
	return nil
}

func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}
