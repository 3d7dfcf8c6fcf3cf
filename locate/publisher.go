package locate

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix when none is configured
const DefaultPublishPrefix = "roomprint"

// Publisher publishes scanner locations to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	locations     map[string]*Location
	mu            sync.RWMutex
}

// NewPublisher creates a location publisher. The prefix comes from
// MQTT_PUBLISH_PREFIX, then the given value, then DefaultPublishPrefix.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
		locations:     make(map[string]*Location),
	}
}

// Prefix returns the topic prefix in use
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// PublishLocation publishes a scanner's location to its own topic and the
// combined locations topic.
func (p *Publisher) PublishLocation(loc *Location) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	stored := *loc
	p.mu.Lock()
	p.locations[loc.ScannerID] = &stored
	p.mu.Unlock()

	if err := p.publishIndividual(&stored); err != nil {
		return err
	}
	return p.publishCombined()
}

func (p *Publisher) publishIndividual(loc *Location) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, loc.ScannerID)

	payload, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("marshaling location: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("[DEBUG] Published location for %s: room=%s outlier=%t distance=%.2f",
		loc.ScannerID, loc.Room, loc.Outlier, loc.Distance)
	return nil
}

func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	locations := make([]*Location, 0, len(p.locations))
	for _, loc := range p.locations {
		locations = append(locations, loc)
	}
	p.mu.RUnlock()

	if len(locations) == 0 {
		return nil
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].ScannerID < locations[j].ScannerID })

	topic := fmt.Sprintf("%s/locations", p.publishPrefix)
	payload, err := json.Marshal(map[string]interface{}{
		"scanners":  locations,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling combined locations: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetLocation returns the last published location for a scanner
func (p *Publisher) GetLocation(scannerID string) (*Location, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	loc, ok := p.locations[scannerID]
	if !ok {
		return nil, false
	}
	c := *loc
	return &c, true
}

// ClearLocation forgets a scanner, e.g. when it goes offline
func (p *Publisher) ClearLocation(scannerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.locations, scannerID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
