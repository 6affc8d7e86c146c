package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Announce the raw correction TCP input using DNS-SD
 *
 * Description:
 *
 *     A phone app or NTRIP client on the local network can find where to
 *     send SPARTN data without anybody typing in an address and port.
 *
 *     This uses the pure-Go github.com/brutella/dnssd package for
 *     mDNS/DNS-SD service announcement without requiring any system
 *     daemon or C library dependencies.
 */

import (
	"context"
	"os"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

const DNS_SD_SERVICE = "_spartn._tcp"

/* Get a default service name to publish. By default,
 * "hpgmux on <hostname>", or just "hpgmux" if hostname cannot
 * be obtained.
 */
func dns_sd_default_service_name() string {
	var hostname, hostnameErr = os.Hostname()
	if hostnameErr != nil {
		return "hpgmux"
	}

	// on some systems, an FQDN is returned; remove domain part
	hostname, _, _ = strings.Cut(hostname, ".")

	return "hpgmux on " + hostname
}

// AnnounceInjectService responds to mDNS queries until ctx is done.
// Failures are logged and otherwise ignored.
func AnnounceInjectService(ctx context.Context, name string, port int, logger *log.Logger) {
	if name == "" {
		name = dns_sd_default_service_name()
	}

	var cfg = dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: DNS_SD_SERVICE,
		Port: port,
	}

	var sv, svErr = dnssd.NewService(cfg)
	if svErr != nil {
		logger.Error("failed to create service", "err", svErr)
		return
	}

	var rp, rpErr = dnssd.NewResponder()
	if rpErr != nil {
		logger.Error("failed to create responder", "err", rpErr)
		return
	}

	var _, addErr = rp.Add(sv)
	if addErr != nil {
		logger.Error("failed to add service", "err", addErr)
		return
	}

	logger.Info("announcing correction input", "port", port, "name", name)

	go func() {
		var respondErr = rp.Respond(ctx)
		if respondErr != nil && ctx.Err() == nil {
			logger.Error("responder error", "err", respondErr)
		}
	}()
}
