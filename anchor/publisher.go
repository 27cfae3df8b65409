package anchor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes pipeline outputs to MQTT. Each output goes to
// <prefix>/<subject>, and the latest output of every subject is republished
// together on <prefix>/poses.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	logger        *slog.Logger
	latest        map[string]Output
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "headanchor"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,     // fire and forget; the next frame supersedes a lost one
		retain:        false, // a retained pose would be replayed long after it is stale
		logger:        logger.With("component", "publisher"),
		latest:        make(map[string]Output),
	}
}

// combinedPoses is the payload of the combined topic.
type combinedPoses struct {
	Subjects  []Output `json:"subjects"`
	Timestamp int64    `json:"timestamp"`
}

// Publish sends one output to the subject topic and refreshes the combined
// topic.
func (p *Publisher) Publish(out Output) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	p.latest[out.SubjectID] = out
	p.mu.Unlock()

	if err := p.publishJSON(p.SubjectTopic(out.SubjectID), out); err != nil {
		return err
	}
	if err := p.publishJSON(p.CombinedTopic(), p.combined()); err != nil {
		return err
	}

	p.logger.Debug("published pose", "subject", out.SubjectID, "frame", out.Pose.Frame,
		"state", out.State, "visible", out.Transform.Visible)
	return nil
}

func (p *Publisher) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) combined() combinedPoses {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msg := combinedPoses{Subjects: make([]Output, 0, len(p.latest)), Timestamp: time.Now().Unix()}
	for _, out := range p.latest {
		msg.Subjects = append(msg.Subjects, out)
	}
	sort.Slice(msg.Subjects, func(i, j int) bool { return msg.Subjects[i].SubjectID < msg.Subjects[j].SubjectID })
	return msg
}

// SubjectTopic returns the per-subject topic.
func (p *Publisher) SubjectTopic(subjectID string) string {
	return fmt.Sprintf("%s/%s", p.publishPrefix, subjectID)
}

// CombinedTopic returns the topic carrying every subject's latest pose.
func (p *Publisher) CombinedTopic() string {
	return fmt.Sprintf("%s/poses", p.publishPrefix)
}

// Clear forgets a subject, dropping it from the combined topic.
func (p *Publisher) Clear(subjectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.latest, subjectID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
