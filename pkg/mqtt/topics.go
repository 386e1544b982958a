package mqtt

import (
	"fmt"
	"strings"
)

// Topic naming conventions.
// Format: bigskies/coordinator/{name}/{action}[/{resource}]
const (
	// TopicPrefix is the root prefix for all framework topics
	TopicPrefix = "bigskies"

	ComponentCoordinator = "coordinator"

	// Actions
	ActionCommand  = "cmd"
	ActionEvent    = "event"
	ActionStatus   = "status"
	ActionHealth   = "health"
	ActionResponse = "resp"

	// CoordinatorFocuser is the focuser coordinator name.
	CoordinatorFocuser = "focuser"
)

// TopicBuilder helps construct topic strings following conventions.
type TopicBuilder struct {
	parts []string
}

// NewTopicBuilder creates a new topic builder starting with the framework prefix.
func NewTopicBuilder() *TopicBuilder {
	return &TopicBuilder{
		parts: []string{TopicPrefix},
	}
}

// Coordinator adds the coordinator component segments.
func (tb *TopicBuilder) Coordinator(name string) *TopicBuilder {
	tb.parts = append(tb.parts, ComponentCoordinator, name)
	return tb
}

// Action adds an action segment.
func (tb *TopicBuilder) Action(action string) *TopicBuilder {
	tb.parts = append(tb.parts, action)
	return tb
}

// Resource adds a resource segment.
func (tb *TopicBuilder) Resource(resource string) *TopicBuilder {
	tb.parts = append(tb.parts, resource)
	return tb
}

// Build constructs the final topic string.
func (tb *TopicBuilder) Build() string {
	return strings.Join(tb.parts, "/")
}

// CoordinatorHealthTopic returns the health check topic for a coordinator.
func CoordinatorHealthTopic(coordinator string) string {
	return NewTopicBuilder().Coordinator(coordinator).Action(ActionHealth).Resource("status").Build()
}

// CoordinatorStatusTopic returns the status topic for a coordinator.
func CoordinatorStatusTopic(coordinator string) string {
	return NewTopicBuilder().Coordinator(coordinator).Action(ActionStatus).Build()
}

// CoordinatorCommandTopic returns the command topic for a coordinator.
func CoordinatorCommandTopic(coordinator string) string {
	return NewTopicBuilder().Coordinator(coordinator).Action(ActionCommand).Build()
}

// CoordinatorResponseTopic returns the topic answering the command topic.
func CoordinatorResponseTopic(coordinator string) string {
	return NewTopicBuilder().Coordinator(coordinator).Action(ActionCommand).Resource(ActionResponse).Build()
}

// CoordinatorEventTopic returns the event topic for a coordinator.
func CoordinatorEventTopic(coordinator string, eventType string) string {
	return NewTopicBuilder().Coordinator(coordinator).Action(ActionEvent).Resource(eventType).Build()
}

// ParseTopic extracts the segments after the prefix.
func ParseTopic(topic string) ([]string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != TopicPrefix {
		return nil, fmt.Errorf("invalid topic format: must start with %s", TopicPrefix)
	}
	return parts[1:], nil
}

// ValidateTopic checks if a topic follows framework conventions.
func ValidateTopic(topic string) bool {
	parts := strings.Split(topic, "/")
	return len(parts) >= 3 && parts[0] == TopicPrefix
}
