package models

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ServiceName is the service path of every message endpoint
const ServiceName = "ICommunicator"

// Endpoint is a parsed peer address of the form scheme://host:port/service
type Endpoint struct {
	Scheme  string
	Host    string
	Port    string
	Service string
}

// MakeEndpoint builds the message endpoint address of a peer
func MakeEndpoint(baseURL string, port int) string {
	return fmt.Sprintf("%s:%d/%s", baseURL, port, ServiceName)
}

// ParseEndpoint splits a peer address into its parts
func ParseEndpoint(addr string) (Endpoint, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid endpoint %q", addr)
	}
	if u.Host == "" {
		return Endpoint{}, errors.Errorf("endpoint %q has no host", addr)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "endpoint %q has no port", addr)
	}
	return Endpoint{
		Scheme:  u.Scheme,
		Host:    host,
		Port:    port,
		Service: strings.Trim(u.Path, "/"),
	}, nil
}

// Address returns the host:port part used to dial or listen
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// String returns the full endpoint address
func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s/%s", e.Scheme, e.Address(), e.Service)
}
