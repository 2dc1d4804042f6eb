package logchannel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is one log line on the wire.
type Message struct {
	ProjectID    string    `json:"project_id"`
	DeploymentID string    `json:"deployment_id"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Subject returns the subject a deployment's lines are published on.
func Subject(projectID, deploymentID string) string {
	return SubjectPrefix + "." + token(projectID) + "." + token(deploymentID)
}

// token strips characters that would split or wildcard a subject.
func token(value string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, value)
}

// Encode serialises a message.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses and validates a wire message. Any failure wraps ErrMalformed.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(msg.DeploymentID) == "" {
		return Message{}, fmt.Errorf("%w: missing deployment id", ErrMalformed)
	}
	if msg.Message == "" {
		return Message{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg, nil
}
