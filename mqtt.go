package preheat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"endobit.io/app/log"
)

const publishTimeout = 5 * time.Second

// Bus is a shared MQTT connection. Every zone feed subscribes through the same
// bus.
type Bus struct {
	logger *slog.Logger
	broker string
	id     string
	client mqtt.Client
}

// WithBusLogger is an option setting function for NewBus. It sets the logger
// used by the bus and by the paho client's internal logging.
func WithBusLogger(logger *slog.Logger) func(*Bus) {
	return func(b *Bus) {
		b.logger = logger
	}
}

// ClientID is an option setting function for NewBus. It overrides the MQTT
// client identifier.
func ClientID(id string) func(*Bus) {
	return func(b *Bus) {
		b.id = id
	}
}

// NewBus returns an unconnected bus for the broker URL.
func NewBus(broker string, opts ...func(*Bus)) *Bus {
	bus := Bus{
		logger: slog.New(slog.DiscardHandler),
		broker: broker,
		id:     "preheat",
	}

	for _, o := range opts {
		o(&bus)
	}

	mqttLogger = bus.logger

	options := mqtt.NewClientOptions()
	options.AddBroker(broker)
	options.SetClientID(bus.id)
	options.SetAutoReconnect(true)
	options.OnConnect = bus.onConnect
	options.OnConnectionLost = bus.onConnectionLost
	options.OnReconnecting = bus.onReconnecting

	bus.client = mqtt.NewClient(options)

	return &bus
}

func (b *Bus) Connect() error {
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connecting to %s: %w", b.broker, token.Error())
	}

	return nil
}

func (b *Bus) Close() {
	b.client.Disconnect(250)
}

func (b *Bus) onConnect(_ mqtt.Client) {
	b.logger.Info("mqtt connected", "broker", b.broker)
}

func (b *Bus) onConnectionLost(_ mqtt.Client, err error) {
	b.logger.Error("mqtt connection lost", "error", err)
}

func (b *Bus) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	b.logger.Info("mqtt reconnecting", "broker", b.broker)
}

func (b *Bus) subscribe(topic string, fn mqtt.MessageHandler) error {
	if token := b.client.Subscribe(topic, 1, fn); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}

	return nil
}

func (b *Bus) publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timeout", topic)
	}

	return token.Error()
}

// ZoneTopics names the topics a zone listens on and commands through. Empty
// topics are not subscribed.
type ZoneTopics struct {
	Indoor   string `mapstructure:"indoor"`
	Outdoor  string `mapstructure:"outdoor"`
	Climate  string `mapstructure:"climate"`
	Schedule string `mapstructure:"schedule"`
	Weather  string `mapstructure:"weather"`
	Command  string `mapstructure:"command"`
}

// climateState is the payload published on the climate topic.
type climateState struct {
	Action   string   `json:"action"`
	Setpoint *float64 `json:"setpoint"`
}

// ZoneFeed caches the latest reading from each zone topic. It implements
// Readings and Actuator for the orchestrator.
type ZoneFeed struct {
	mu     sync.RWMutex
	logger *slog.Logger
	bus    *Bus
	topics ZoneTopics

	indoor   *float64
	outdoor  *float64
	action   *HvacAction
	setpoint *float64
	schedule *Schedule
	forecast *Forecast
}

// NewZoneFeed subscribes to the zone's topics on the bus. The bus must be
// connected.
func NewZoneFeed(bus *Bus, logger *slog.Logger, topics ZoneTopics) (*ZoneFeed, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	feed := ZoneFeed{
		logger: logger,
		bus:    bus,
		topics: topics,
	}

	subs := []struct {
		topic string
		fn    mqtt.MessageHandler
	}{
		{topics.Indoor, feed.onIndoor},
		{topics.Outdoor, feed.onOutdoor},
		{topics.Climate, feed.onClimate},
		{topics.Schedule, feed.onSchedule},
		{topics.Weather, feed.onWeather},
	}

	for _, s := range subs {
		if s.topic == "" {
			continue
		}

		if err := bus.subscribe(s.topic, s.fn); err != nil {
			return nil, err
		}
	}

	return &feed, nil
}

func (f *ZoneFeed) Indoor() (float64, bool)  { return f.readFloat(&f.indoor) }
func (f *ZoneFeed) Outdoor() (float64, bool) { return f.readFloat(&f.outdoor) }

func (f *ZoneFeed) HvacAction() (HvacAction, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.action == nil {
		return "", false
	}

	return *f.action, true
}

func (f *ZoneFeed) Setpoint() (float64, bool) { return f.readFloat(&f.setpoint) }

func (f *ZoneFeed) Schedule() (Schedule, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.schedule == nil {
		return Schedule{}, false
	}

	return *f.schedule, true
}

func (f *ZoneFeed) Forecast() *Forecast {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.forecast
}

// SetTargetTemperature publishes a setpoint command for the zone.
func (f *ZoneFeed) SetTargetTemperature(_ context.Context, value float64) error {
	payload, err := json.Marshal(struct {
		Setpoint float64 `json:"setpoint"`
	}{Setpoint: value})
	if err != nil {
		return err
	}

	return f.bus.publish(f.topics.Command, payload)
}

func (f *ZoneFeed) readFloat(field **float64) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if *field == nil {
		return 0, false
	}

	return **field, true
}

func (f *ZoneFeed) onIndoor(_ mqtt.Client, m mqtt.Message) {
	f.storeFloat(&f.indoor, m)
}

func (f *ZoneFeed) onOutdoor(_ mqtt.Client, m mqtt.Message) {
	f.storeFloat(&f.outdoor, m)
}

func (f *ZoneFeed) storeFloat(field **float64, m mqtt.Message) {
	v, ok := parseMaybeFloat(string(m.Payload()))

	f.mu.Lock()
	defer f.mu.Unlock()

	if !ok {
		*field = nil
		return
	}

	*field = &v
	f.logger.Log(context.Background(), log.LevelTrace, "rx",
		"topic", m.Topic(), log.Format("%.1f", "value", v))
}

func (f *ZoneFeed) onClimate(_ mqtt.Client, m mqtt.Message) {
	var state climateState

	if err := json.Unmarshal(m.Payload(), &state); err != nil {
		f.logger.Warn("bad climate payload", "topic", m.Topic(), "error", err)
		return
	}

	action := HvacAction(strings.ToLower(state.Action))

	f.mu.Lock()
	defer f.mu.Unlock()

	f.action = &action
	f.setpoint = state.Setpoint
}

func (f *ZoneFeed) onSchedule(_ mqtt.Client, m mqtt.Message) {
	var s Schedule

	if err := json.Unmarshal(m.Payload(), &s); err != nil {
		f.logger.Warn("bad schedule payload", "topic", m.Topic(), "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.schedule = &s
}

func (f *ZoneFeed) onWeather(_ mqtt.Client, m mqtt.Message) {
	var forecast Forecast

	if err := json.Unmarshal(m.Payload(), &forecast); err != nil {
		f.logger.Warn("bad forecast payload", "topic", m.Topic(), "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.forecast = &forecast
}

// parseMaybeFloat parses a sensor payload. Home automation bridges publish
// "unavailable" or "unknown" when a sensor drops off.
func parseMaybeFloat(s string) (float64, bool) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))

	switch strings.ToLower(s) {
	case "", "unavailable", "unknown", "none", "null":
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
