package hpgmux

/*------------------------------------------------------------------
 *
 * Purpose:   	Receive SPARTN corrections over IP from an MQTT broker.
 *
 * Description:	The PointPerfect service publishes the correction stream
 *		and, on a separate topic, the dynamic keys needed to decrypt
 *		it.  Both are injected as they arrive.  The keys are also
 *		saved so they can be given to the receiver again after it
 *		has been reset.
 *
 *		Whether this path is WLAN or LTE is a matter of
 *		configuration, the broker looks the same either way.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttConnectTimeout = 10 * time.Second

// keySetter is satisfied by *KeyStore.
type keySetter interface {
	Set(key []byte, now time.Time) error
}

type PointPerfectClient struct {
	cfg    MQTTConfig
	source Source
	sink   CorrectionInjector
	keys   keySetter
	log    *log.Logger

	client mqtt.Client

	received atomic.Uint64
	rejected atomic.Uint64
	keyCount atomic.Uint64
}

func NewPointPerfectClient(cfg MQTTConfig, sink CorrectionInjector, keys keySetter, logger *log.Logger) *PointPerfectClient {
	return &PointPerfectClient{
		cfg:    cfg,
		source: cfg.source,
		sink:   sink,
		keys:   keys,
		log:    logger,
	}
}

func loadTLSConfig(cfg MQTTConfig) (*tls.Config, error) {
	var tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12} //nolint:exhaustruct

	if cfg.CACert != "" {
		var pem, err = os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, err
		}

		var pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACert)
		}

		tlsConfig.RootCAs = pool
	}

	if cfg.ClientCert != "" || cfg.ClientKey != "" {
		var cert, err = tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, err
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect starts the client.  The broker has to answer within the connect
// timeout, later losses of connection are retried in the background.
func (p *PointPerfectClient) Connect(ctx context.Context) error {
	var tlsConfig, tlsErr = loadTLSConfig(p.cfg)
	if tlsErr != nil {
		return fmt.Errorf("mqtt tls: %w", tlsErr)
	}

	var opts = mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetTLSConfig(tlsConfig)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Subscriptions do not survive a reconnect with a clean session.
	opts.OnConnect = func(c mqtt.Client) {
		p.log.Info("connected", "broker", p.cfg.Broker)
		p.subscribe(c)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.log.Warn("connection lost, will reconnect", "broker", p.cfg.Broker, "err", err)
	}

	p.client = mqtt.NewClient(opts)

	p.log.Info("connecting", "broker", p.cfg.Broker)

	var token = p.client.Connect()

	var done = make(chan struct{})
	go func() {
		token.WaitTimeout(mqttConnectTimeout)
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.client.Disconnect(0)
		return ctx.Err()
	case <-done:
	}

	if !p.client.IsConnectionOpen() {
		var err = token.Error()
		if err == nil {
			err = errors.New("timeout")
		}

		// Keeps retrying in the background.
		p.log.Warn("broker not reachable yet", "broker", p.cfg.Broker, "err", err)
	}

	return nil
}

func (p *PointPerfectClient) topics() map[string]byte {
	var filters = map[string]byte{}

	for _, topic := range []string{p.cfg.CorrectionTopic, p.cfg.KeyTopic, p.cfg.AssistTopic} {
		if topic != "" {
			filters[topic] = p.cfg.QoS
		}
	}

	return filters
}

func (p *PointPerfectClient) subscribe(c mqtt.Client) {
	var filters = p.topics()
	if len(filters) == 0 {
		return
	}

	var token = c.SubscribeMultiple(filters, p.onMessage)
	if !token.WaitTimeout(mqttConnectTimeout) {
		p.log.Error("subscribe timeout")
		return
	}

	var err = token.Error()
	if err != nil {
		p.log.Error("subscribe failed", "err", err)
		return
	}

	p.log.Debug("subscribed", "topics", len(filters))
}

func (p *PointPerfectClient) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var topic = msg.Topic()
	var payload = msg.Payload()

	switch topic {
	case p.cfg.CorrectionTopic:
		p.forward(payload, p.source, topic)
	case p.cfg.KeyTopic:
		p.keyCount.Add(1)

		var err = p.keys.Set(payload, time.Now())
		if err != nil {
			p.log.Error("could not save keys", "err", err)
		}

		p.forward(payload, SourceOther, topic)
	case p.cfg.AssistTopic:
		p.forward(payload, SourceOther, topic)
	default:
		p.log.Debug("message on unexpected topic", "topic", topic, "bytes", len(payload))
	}
}

func (p *PointPerfectClient) forward(payload []byte, src Source, topic string) {
	if p.sink.Inject(payload, src) == 0 {
		p.rejected.Add(1)
		return
	}

	p.received.Add(1)
	p.log.Debug("received", "topic", topic, "bytes", len(payload), "source", src)
}

func (p *PointPerfectClient) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}

// Counts returns messages injected, messages the queue refused and key
// updates seen.
func (p *PointPerfectClient) Counts() (uint64, uint64, uint64) {
	return p.received.Load(), p.rejected.Load(), p.keyCount.Load()
}
