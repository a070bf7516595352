package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJSON() string {
	return `{
		"tun": "cvpn0",
		"server": "203.0.113.5",
		"port": 5555,
		"plugin": "./plugsrt.dll",
		"local4": "10.200.0.2",
		"peer4": "10.200.0.1",
		"local6": "fd00:dead:beef::2",
		"peer6": "fd00:dead:beef::1",
		"mtu": 1400,
		"dns": ["10.200.0.1", "1.1.1.1"]
	}`
}

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validJSON()))
	require.NoError(t, err)

	assert.Equal(t, "cvpn0", cfg.Tun)
	assert.Equal(t, "203.0.113.5", cfg.Server)
	assert.Equal(t, 5555, cfg.Port)
	assert.Equal(t, 1400, cfg.MTU)
	assert.Equal(t, DNSList{"10.200.0.1", "1.1.1.1"}, cfg.DNS)
}

func TestParse_StripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(validJSON())...)
	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "cvpn0", cfg.Tun)
}

func TestParse_DNSCommaString(t *testing.T) {
	json := `{
		"tun": "cvpn0", "server": "s.example.org", "port": 5555,
		"plugin": "p.dll",
		"local4": "10.200.0.2", "peer4": "10.200.0.1",
		"local6": "fd00::2", "peer6": "fd00::1",
		"mtu": 1400,
		"dns": " 10.200.0.1 , 1.1.1.1 ,"
	}`
	cfg, err := Parse([]byte(json))
	require.NoError(t, err)
	assert.Equal(t, DNSList{"10.200.0.1", "1.1.1.1"}, cfg.DNS)
}

func TestParse_MissingField(t *testing.T) {
	json := `{"tun": "cvpn0"}`
	_, err := Parse([]byte(json))
	assert.Error(t, err)
}

func TestParse_PortOutOfRange(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		json := validJSON()
		cfg, err := Parse([]byte(json))
		require.NoError(t, err)
		cfg.Port = port
		assert.Error(t, cfg.Validate(), "port %d must be rejected", port)
	}
}

func TestParse_MTUOutOfRange(t *testing.T) {
	for _, mtu := range []int{575, 9201} {
		cfg, err := Parse([]byte(validJSON()))
		require.NoError(t, err)
		cfg.MTU = mtu
		assert.Error(t, cfg.Validate(), "mtu %d must be rejected", mtu)
	}
}

func TestParse_BadAddressFamilies(t *testing.T) {
	cfg, err := Parse([]byte(validJSON()))
	require.NoError(t, err)

	cfg.Local4 = "fd00::2" // v6 literal in a v4 field
	assert.Error(t, cfg.Validate())

	cfg, _ = Parse([]byte(validJSON()))
	cfg.Peer6 = "10.0.0.1"
	assert.Error(t, cfg.Validate())
}

func TestParse_EmptyDNS(t *testing.T) {
	json := `{
		"tun": "cvpn0", "server": "s", "port": 5555, "plugin": "p.dll",
		"local4": "10.200.0.2", "peer4": "10.200.0.1",
		"local6": "fd00::2", "peer6": "fd00::1",
		"mtu": 1400,
		"dns": []
	}`
	_, err := Parse([]byte(json))
	assert.Error(t, err)
}

func TestStripBrackets(t *testing.T) {
	assert.Equal(t, "fd00::1", StripBrackets("[fd00::1]"))
	assert.Equal(t, "fd00::1", StripBrackets("fd00::1"))
	assert.Equal(t, "203.0.113.5", StripBrackets("203.0.113.5"))
	assert.Equal(t, "", StripBrackets(""))
}
