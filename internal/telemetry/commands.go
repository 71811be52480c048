package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/carousel-core/internal/carousel"
	"github.com/nerrad567/carousel-core/internal/infrastructure/mqtt"
)

// commandTimeout bounds the dispatcher call made for a bus command.
const commandTimeout = 10 * time.Second

// RunControl is the slice of the dispatcher the command bridge drives.
type RunControl interface {
	Cancel(ctx context.Context, runID string) error
	Resume(ctx context.Context, runID string) (*carousel.Run, error)
}

// CommandBridge relays operator commands from the event bus to the
// dispatcher, so runs can be cancelled or resumed over MQTT as well as
// over HTTP. Commands arrive on carousel/run/{id}/command as JSON:
//
//	{"action": "cancel"}
//	{"action": "resume"}
type CommandBridge struct {
	client *mqtt.Client
	runs   RunControl
	topics mqtt.Topics
	logger Logger
}

// NewCommandBridge creates a bridge over a connected MQTT client.
func NewCommandBridge(client *mqtt.Client, runs RunControl, logger Logger) *CommandBridge {
	return &CommandBridge{client: client, runs: runs, logger: logger}
}

// Start subscribes to the run command topic pattern. The subscription is
// restored automatically after a reconnect.
func (b *CommandBridge) Start() error {
	return b.client.SubscribeDefault(b.topics.AllRunCommands(), b.handle)
}

// Stop removes the command subscription.
func (b *CommandBridge) Stop() error {
	return b.client.Unsubscribe(b.topics.AllRunCommands())
}

// runCommand is the payload of a bus command.
type runCommand struct {
	Action string `json:"action"`
}

// handle processes one command message. Errors are returned for the
// client's handler wrapper to log; a malformed command never takes the
// subscription down.
func (b *CommandBridge) handle(topic string, payload []byte) error {
	runID, err := runIDFromTopic(topic)
	if err != nil {
		return err
	}

	var cmd runCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parsing command for run %s: %w", runID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Action {
	case "cancel":
		if err := b.runs.Cancel(ctx, runID); err != nil {
			return fmt.Errorf("bus cancel of run %s: %w", runID, err)
		}
		b.logger.Debug("run cancelled via event bus", "run_id", runID)
	case "resume":
		if _, err := b.runs.Resume(ctx, runID); err != nil {
			return fmt.Errorf("bus resume of run %s: %w", runID, err)
		}
		b.logger.Debug("run resumed via event bus", "run_id", runID)
	default:
		return fmt.Errorf("unknown run command %q for run %s", cmd.Action, runID)
	}

	return nil
}

// runIDFromTopic extracts the run ID from carousel/run/{id}/command.
func runIDFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != mqtt.TopicPrefix || parts[1] != "run" || parts[3] != "command" || parts[2] == "" {
		return "", fmt.Errorf("unexpected command topic %q", topic)
	}
	return parts[2], nil
}
