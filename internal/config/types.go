// Package config handles FlowForge client configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DNSList accepts either a JSON array of strings or a single
// comma-separated string ("10.200.0.1,1.1.1.1").
type DNSList []string

// UnmarshalJSON implements the two accepted encodings.
func (d *DNSList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*d = splitServers(arr)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = splitServers(strings.Split(s, ","))
		return nil
	}

	return fmt.Errorf("dns must be either array of strings or comma-separated string")
}

func splitServers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Config is the client configuration. Every field is mandatory.
type Config struct {
	Tun    string  `json:"tun" validate:"required"`
	Server string  `json:"server" validate:"required"`
	Port   int     `json:"port" validate:"required,min=1,max=65535"`
	Plugin string  `json:"plugin" validate:"required"`
	Local4 string  `json:"local4" validate:"required,ipv4"`
	Peer4  string  `json:"peer4" validate:"required,ipv4"`
	Local6 string  `json:"local6" validate:"required,ipv6"`
	Peer6  string  `json:"peer6" validate:"required,ipv6"`
	MTU    int     `json:"mtu" validate:"required,min=576,max=9200"`
	DNS    DNSList `json:"dns" validate:"required,min=1"`
}
