package hpgmux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDNSSDDefaultServiceName(t *testing.T) {
	var name = dns_sd_default_service_name()

	assert.True(t, strings.HasPrefix(name, "hpgmux"))
	assert.NotContains(t, strings.TrimPrefix(name, "hpgmux on "), ".", "domain part removed")
}
