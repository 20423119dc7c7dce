// Package publish mirrors controller telemetry, track events and generated
// passes to an MQTT broker as JSON.
package publish

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/star/trackgo/internal/protocol"
	"github.com/star/trackgo/internal/track"
)

// Config holds broker and topic settings.
type Config struct {
	Broker         string // e.g. tcp://localhost:1883
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	Retain         bool
	StatusInterval time.Duration
	PublishTimeout time.Duration
	EventQueue     int // events buffered for the broker; default 64
	TLS            TLSConfig
}

// TLSConfig points at PEM files for a TLS broker connection.
type TLSConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
}

// client is the subset of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends JSON documents under the configured topic prefix:
//
//	<prefix>/status              latest telemetry
//	<prefix>/events/<kind>       track header acks and data requests
//	<prefix>/passes/<id>/<stage> generated pass headers
//
// Events are queued and published from a separate goroutine so callers on
// the controller path never wait on the broker.
type Publisher struct {
	client client
	cfg    Config
	logger *slog.Logger

	events    chan eventPayload
	quit      chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
}

// Connect dials the broker and returns a Publisher. The client reconnects
// on its own after the first successful connection.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("trackgo_" + uuid.NewString()[:8])
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if cfg.TLS.Enabled {
		tlsCfg, err := loadTLS(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(30*time.Second) || tok.Error() != nil {
		err := tok.Error()
		if err == nil {
			err = errors.New("timed out")
		}
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.Broker, err)
	}
	return New(c, cfg, logger), nil
}

// New wraps an existing client.
func New(c client, cfg Config, logger *slog.Logger) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "trackgo"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.EventQueue <= 0 {
		cfg.EventQueue = 64
	}
	p := &Publisher{
		client:  c,
		cfg:     cfg,
		logger:  logger,
		events:  make(chan eventPayload, cfg.EventQueue),
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go p.drainEvents()
	return p
}

func loadTLS(c TLSConfig) (*tls.Config, error) {
	out := &tls.Config{}
	if c.CACert != "" {
		pem, err := os.ReadFile(c.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("parsing CA certificate: no certificates found")
		}
		out.RootCAs = pool
	}
	if c.ClientCert != "" && c.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

// PublishStatus sends one telemetry snapshot.
func (p *Publisher) PublishStatus(s *protocol.Status) error {
	return p.publish(p.cfg.TopicPrefix+"/status", s)
}

type eventPayload struct {
	At      time.Time        `json:"at"`
	Kind    string           `json:"kind"`
	Message protocol.Message `json:"message"`
}

// PublishEvent queues one track event and returns at once. When the queue
// is full the event is dropped and logged.
func (p *Publisher) PublishEvent(ev protocol.Event) {
	kind := eventKind(ev.Message)
	payload := eventPayload{At: ev.At.UTC(), Kind: kind, Message: ev.Message}
	select {
	case <-p.quit:
	case p.events <- payload:
	default:
		p.logger.Warn("mqtt event queue full, dropping event", "kind", kind)
	}
}

func (p *Publisher) drainEvents() {
	defer close(p.drained)
	for {
		select {
		case ev := <-p.events:
			p.sendEvent(ev)
		case <-p.quit:
			for {
				select {
				case ev := <-p.events:
					p.sendEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) sendEvent(ev eventPayload) {
	if err := p.publish(p.cfg.TopicPrefix+"/events/"+ev.Kind, ev); err != nil {
		p.logger.Warn("mqtt event publish failed", "kind", ev.Kind, "error", err)
	}
}

func eventKind(m protocol.Message) string {
	switch m.(type) {
	case protocol.TrackHeaderAck:
		return "header_ack"
	case protocol.DataRequest:
		return "data_request"
	}
	return m.Kind().String()
}

// PublishPass sends one pass header.
func (p *Publisher) PublishPass(pass track.Pass) error {
	topic := p.cfg.TopicPrefix + "/passes/" + strconv.FormatInt(pass.ID, 10) + "/" + string(pass.Stage)
	return p.publish(topic, pass)
}

// RunStatus publishes the latest telemetry every StatusInterval until ctx
// is done. A snapshot is sent once per tick counter value.
func (p *Publisher) RunStatus(ctx context.Context, latest func() *protocol.Status) {
	interval := p.cfg.StatusInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastTick uint32
	sent := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := latest()
			if s == nil || (sent && s.Tick == lastTick) {
				continue
			}
			if err := p.PublishStatus(s); err != nil {
				p.logger.Warn("mqtt status publish failed", "error", err)
				continue
			}
			lastTick, sent = s.Tick, true
		}
	}
}

func (p *Publisher) publish(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	tok := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, data)
	if !tok.WaitTimeout(p.cfg.PublishTimeout) {
		return fmt.Errorf("publishing %s: timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Close publishes the events still queued and disconnects from the broker.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		<-p.drained
		p.client.Disconnect(250)
	})
}
