package telemetry

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const mqttTimeout = 2 * time.Second

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Publisher sends one payload on a topic
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

type MQTTConfig struct {
	Broker   string
	ClientId string
	Username string
	Password string
	Qos      byte
}

// MQTTPublisher publishes through a paho client
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	logger *log.Entry
}

// NewMQTTPublisher connects to the broker, paho reconnects on its own afterwards
func NewMQTTPublisher(conf MQTTConfig, logger *log.Entry) (*MQTTPublisher, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithField("service", "[TELEMETRY]")
	options := mqtt.NewClientOptions().
		AddBroker(conf.Broker).
		SetClientID(conf.ClientId).
		SetUsername(conf.Username).
		SetPassword(conf.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnf("connection to broker lost : %v", err)
		})
	client := mqtt.NewClient(options)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("connecting to %v : %w", conf.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %v : %w", conf.Broker, err)
	}
	logger.Infof("connected to %v", conf.Broker)
	return &MQTTPublisher{client: client, qos: conf.Qos, logger: logger}, nil
}

func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(2000)
}
