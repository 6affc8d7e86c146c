package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Main program for the correction multiplexer.
 *
 * Description:	Brings up, in this order:
 *
 *			The GNSS receiver and its correction queue.
 *			The L-band receiver, if enabled.
 *			The MQTT client for the IP correction stream.
 *			The raw TCP correction input, optionally announced.
 *			The hot-plug watch.
 *
 *		Then polls the receivers on a fixed tick until SIGINT or
 *		SIGTERM.  SIGHUP re-reads the configuration file and applies
 *		a changed L-band frequency.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

func HpgMuxMain() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Feed SPARTN corrections from several sources into a GNSS receiver.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}

	var configFile = pflag.StringP("config-file", "c", "", "Configuration file name.  Default is to search hpgmux.yaml, data/hpgmux.yaml, /etc/hpgmux/hpgmux.yaml.")
	var debug = pflag.BoolP("debug", "d", false, "Debug logging.")
	var version = pflag.BoolP("version", "v", false, "Print version and exit.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *version {
		printVersion(os.Stdout, "hpgmux", *debug)
		os.Exit(0)
	}

	var cfg, location, cfgErr = LoadConfig(*configFile)
	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "%s\n", cfgErr)
		os.Exit(1)
	}

	if *debug {
		cfg.Log.Level = "debug"
	}

	var logger, logErr = NewLogger(cfg.Log.Level, os.Stderr)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "%s\n", logErr)
		os.Exit(1)
	}

	if location == "" {
		logger.Warn("no configuration file found, using defaults")
	} else {
		logger.Info("configuration loaded", "file", location)
	}

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr = run(ctx, cfg, *configFile, logger)
	if runErr != nil {
		logger.Error("exiting", "err", runErr)
		os.Exit(1)
	}
}

type multiplexer struct {
	cfg     *Config
	log     *log.Logger
	gnss    *Gnss
	zed     *ZEDReceiver
	lband   *LBandReceiver
	mqtt    *PointPerfectClient
	server  *InjectServer
	capture *CaptureLog
	reset   *ResetLine
}

func run(ctx context.Context, cfg *Config, configFile string, logger *log.Logger) error {
	var m, err = newMultiplexer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	defer m.close()

	var hup = make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	defer signal.Stop(hup)

	var ticker = time.NewTicker(cfg.Corrections.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-hup:
			m.reload(configFile)
		case now := <-ticker.C:
			m.poll(now)
		}
	}
}

func newMultiplexer(ctx context.Context, cfg *Config, logger *log.Logger) (*multiplexer, error) {
	var m = &multiplexer{cfg: cfg, log: logger}

	var keys, keyErr = OpenKeyStore(cfg.KeyFile)
	if keyErr != nil {
		return nil, keyErr
	}

	var opts = GnssOptions{
		QueueCapacity:        cfg.Corrections.QueueCapacity,
		SourceTimeout:        cfg.Corrections.SourceTimeout,
		DetectRetry:          cfg.GNSS.DetectRetry,
		ReplayAfterReconnect: cfg.Corrections.ReplayAfterReconnect,
		Keys:                 keys,
	}

	if cfg.Capture.Enabled {
		var capture, captureErr = OpenCaptureLog(cfg.Capture.Directory, cfg.Capture.Format, logger.WithPrefix("CAPTURE"))
		if captureErr != nil {
			return nil, captureErr
		}

		m.capture = capture
		opts.Capture = capture
	}

	m.zed = NewZEDReceiver(cfg.GNSS, logger.WithPrefix("GNSS"))

	if cfg.GNSS.Reset.Chip != "" {
		var line, lineErr = OpenResetLine(cfg.GNSS.Reset.Chip, cfg.GNSS.Reset.Line, cfg.GNSS.Reset.ActiveLow)
		if lineErr != nil {
			m.close()
			return nil, lineErr
		}

		m.reset = line
		m.zed.SetResetLine(line)
	}

	m.gnss = NewGnss(m.zed, opts, logger.WithPrefix("GNSS"), time.Now())

	if cfg.LBand.Enabled {
		var forwarder = NewPMPForwarder(m.gnss, logger.WithPrefix("LBAND"))
		m.lband = NewLBandReceiver(cfg.LBand, forwarder, logger.WithPrefix("LBAND"))
	}

	if cfg.MQTT.Enabled {
		m.mqtt = NewPointPerfectClient(cfg.MQTT, m.gnss, keys, logger.WithPrefix("MQTT"))

		var mqttErr = m.mqtt.Connect(ctx)
		if mqttErr != nil {
			m.close()
			return nil, mqttErr
		}
	}

	if cfg.Inject.Enabled {
		m.server = NewInjectServer(cfg.Inject.Listen, cfg.Inject.source, m.gnss, logger.WithPrefix("TCP"))

		var serverErr = m.server.Start(ctx)
		if serverErr != nil {
			m.close()
			return nil, fmt.Errorf("correction input %s: %w", cfg.Inject.Listen, serverErr)
		}

		if cfg.Inject.Announce {
			if addr, ok := m.server.Addr().(*net.TCPAddr); ok {
				AnnounceInjectService(ctx, cfg.Inject.Name, addr.Port, logger.WithPrefix("DNS-SD"))
			}
		}
	}

	if cfg.GNSS.Hotplug {
		var hotplugErr = WatchHotplug(ctx, cfg.GNSS.Device, m.gnss.RequestDetect, logger.WithPrefix("GNSS"))
		if hotplugErr != nil {
			// Detection retry still finds the receiver, only slower.
			logger.Warn("hot-plug watch not available", "err", hotplugErr)
		}
	}

	return m, nil
}

func (m *multiplexer) poll(now time.Time) {
	if m.lband != nil {
		m.lband.Poll(now)
	}

	m.gnss.Poll(now)
}

// reload applies what can change without a restart.
func (m *multiplexer) reload(configFile string) {
	var cfg, location, err = LoadConfig(configFile)
	if err != nil {
		m.log.Error("reload failed, keeping configuration", "err", err)
		return
	}

	m.log.Info("configuration reloaded", "file", location)

	if m.lband != nil && cfg.LBand.Frequency != m.lband.Frequency() {
		m.log.Info("new L-band frequency", "frequency", cfg.LBand.Frequency)
		m.lband.SetFrequency(cfg.LBand.Frequency)
	}
}

func (m *multiplexer) close() {
	if m.server != nil {
		m.server.Close()
	}

	if m.mqtt != nil {
		m.mqtt.Close()
	}

	if m.lband != nil {
		m.lband.Close()
	}

	if m.gnss != nil {
		m.gnss.Close()

		var s = m.gnss.Stats()
		m.log.Info("corrections",
			"injected", s.Injected, "dropped", s.Dropped,
			"pushed", s.Pushed, "bytes", s.BytesPushed, "push_failed", s.PushFailed,
			"flushed", s.Flushed, "reconfigured", s.Reconfigured, "reconfig_failed", s.ReconfigFailed,
			"detections", s.Detections)
	}

	var c = CorrectionCounters()
	if c.Outstanding() != 0 || c.DoubleReleased != 0 {
		m.log.Warn("correction buffers not accounted for", "outstanding", c.Outstanding(), "double_released", c.DoubleReleased)
	}

	if m.zed != nil {
		m.zed.Close()
	}

	if m.reset != nil {
		m.reset.Close()
	}

	if m.capture != nil {
		m.capture.Close()
	}
}
