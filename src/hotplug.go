package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Notice when the receiver is plugged back in.
 *
 * Description:	Without this an unplugged USB receiver is found again by
 *		the regular detection retry.  With it, the udev "add" event
 *		for the device node triggers detection on the next poll.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
)

// hotplugMatches reports whether a udev event is the arrival of devnode.
// devnode may be a symlink such as /dev/serial/by-id/... so both sides
// are resolved.
func hotplugMatches(action, eventNode, devnode string) bool {
	if action != "add" || eventNode == "" {
		return false
	}

	if eventNode == devnode {
		return true
	}

	var resolved, err = filepath.EvalSymlinks(devnode)

	return err == nil && resolved == eventNode
}

// WatchHotplug calls onAdd whenever devnode appears, until ctx is done.
func WatchHotplug(ctx context.Context, devnode string, onAdd func(), logger *log.Logger) error {
	var u udev.Udev

	var monitor = u.NewMonitorFromNetlink("udev")
	if monitor == nil {
		return fmt.Errorf("udev monitor for %s not available", devnode)
	}

	var filterErr = monitor.FilterAddMatchSubsystem("tty")
	if filterErr != nil {
		return fmt.Errorf("udev filter: %w", filterErr)
	}

	var devices, errs, chanErr = monitor.DeviceChan(ctx)
	if chanErr != nil {
		return fmt.Errorf("udev monitor: %w", chanErr)
	}

	logger.Debug("watching for receiver", "device", devnode)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}

				logger.Warn("udev monitor error", "err", err)
			case d, ok := <-devices:
				if !ok {
					return
				}

				if hotplugMatches(d.Action(), d.Devnode(), devnode) {
					logger.Info("receiver plugged in", "device", d.Devnode())
					onAdd()
				}
			}
		}
	}()

	return nil
}
