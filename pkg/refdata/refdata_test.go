package refdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVendorForMAC(t *testing.T) {
	tests := []struct {
		mac  string
		want string
	}{
		{"b8:27:eb:01:02:03", "Raspberry Pi Foundation"},
		{"B827.EB01.0203", "Raspberry Pi Foundation"},
		{"b827eb010203", "Raspberry Pi Foundation"},
		{"00:1b:17:aa:bb:cc", "Palo Alto Networks"},
		{"52:54:00:12:34:56", "QEMU Virtual NIC"},
		{"ff:ff:ff:ff:ff:ff", ""},
		{"b8:27", ""},
		{"", ""},
		{"not a mac", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VendorForMAC(tt.mac), "mac %q", tt.mac)
	}
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "https", ServiceName(443))
	assert.Equal(t, "postgresql", ServiceName(5432))
	assert.Equal(t, "wireguard", ServiceName(51820))
	assert.Equal(t, "", ServiceName(0))
	assert.Equal(t, "", ServiceName(64999))
}
