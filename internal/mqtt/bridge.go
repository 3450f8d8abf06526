package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ayusman/gasketvision/internal/config"
	"github.com/ayusman/gasketvision/internal/inspection"
)

// Commands accepted on the commands topic.
const (
	CommandAnalyze        = "analyze"
	CommandSelectTemplate = "select_template"
	CommandPing           = "ping"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusBusy  = "busy"
)

// queueSize bounds the commands waiting behind a running inspection.
const queueSize = 8

// Inspector runs inspections for the bridge.
type Inspector interface {
	Inspect(ctx context.Context) (inspection.Outcome, error)
	SelectTemplate(ctx context.Context, name string) error
}

// Command is a robot request.
type Command struct {
	Command   string `json:"command"`
	RequestID string `json:"request_id,omitempty"`
	Template  string `json:"template,omitempty"`
}

// Response is published on the responses topic for every command.
type Response struct {
	RequestID string             `json:"request_id"`
	Command   string             `json:"command"`
	Status    string             `json:"status"`
	Success   *bool              `json:"analisis_exitoso,omitempty"`
	Attempts  int                `json:"attempts,omitempty"`
	Error     string             `json:"error,omitempty"`
	Data      *inspection.Result `json:"data,omitempty"`
}

// Bridge executes bus commands one at a time and publishes the responses.
type Bridge struct {
	client    Client
	inspector Inspector
	topics    config.TopicsConfig
	logger    *slog.Logger
	queue     chan []byte

	// replies tracks busy responses published off the paho callback.
	replies sync.WaitGroup
}

// NewBridge creates a Bridge. Run must be called to process commands.
func NewBridge(client Client, inspector Inspector, topics config.TopicsConfig, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:    client,
		inspector: inspector,
		topics:    topics,
		logger:    logger.With("service", "mqtt_bridge"),
		queue:     make(chan []byte, queueSize),
	}
}

// Run subscribes to the commands topic and handles commands until ctx is
// done. A command in progress finishes before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.client.Subscribe(b.topics.Commands, b.enqueue); err != nil {
		return err
	}
	b.logger.Info("listening for commands", "topic", b.topics.Commands)

	for {
		select {
		case <-ctx.Done():
			b.replies.Wait()
			return nil
		case payload := <-b.queue:
			b.handle(ctx, payload)
		}
	}
}

// enqueue runs on the paho callback goroutine and must not block.
func (b *Bridge) enqueue(_ string, payload []byte) {
	msg := append([]byte(nil), payload...)
	select {
	case b.queue <- msg:
	default:
		var cmd Command
		_ = json.Unmarshal(msg, &cmd)
		b.logger.Warn("command queue full, rejecting", "command", cmd.Command)
		b.replies.Add(1)
		go func() {
			defer b.replies.Done()
			b.respond(context.Background(), Response{
				RequestID: cmd.RequestID,
				Command:   cmd.Command,
				Status:    StatusBusy,
				Error:     "inspection queue full",
			})
		}()
	}
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("malformed command", "error", err)
		b.respond(ctx, Response{RequestID: uuid.NewString(), Status: StatusError, Error: "malformed command: " + err.Error()})
		return
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	log := b.logger.With("command", cmd.Command, "request_id", cmd.RequestID)
	log.Info("command received")

	resp := Response{RequestID: cmd.RequestID, Command: cmd.Command, Status: StatusOK}
	switch cmd.Command {
	case CommandPing:

	case CommandSelectTemplate:
		if cmd.Template == "" {
			resp.Status, resp.Error = StatusError, "template name is required"
			break
		}
		if err := b.inspector.SelectTemplate(ctx, cmd.Template); err != nil {
			resp.Status, resp.Error = StatusError, err.Error()
		}

	case CommandAnalyze:
		out, err := b.inspector.Inspect(ctx)
		if err != nil {
			resp.Status, resp.Error = StatusError, err.Error()
			break
		}
		ok := out.Success
		resp.Success = &ok
		resp.Attempts = out.Attempts
		resp.Data = out.Data
		if out.Err != nil {
			resp.Error = out.Err.Error()
		}
		if ok {
			b.PublishResult(ctx, out.Data)
		}

	default:
		resp.Status, resp.Error = StatusError, "unknown command: "+cmd.Command
	}

	b.respond(ctx, resp)
}

// PublishResult publishes a passed inspection on the results topic.
func (b *Bridge) PublishResult(ctx context.Context, data *inspection.Result) {
	if b.topics.Results == "" || data == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("encoding result", "error", err)
		return
	}
	if err := b.client.Publish(ctx, b.topics.Results, payload); err != nil {
		b.logger.Error("publishing result failed", "topic", b.topics.Results, "error", err)
	}
}

func (b *Bridge) respond(ctx context.Context, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("encoding response", "error", err)
		return
	}
	if err := b.client.Publish(ctx, b.topics.Responses, payload); err != nil {
		lvl := slog.LevelError
		if errors.Is(err, ErrNotConnected) {
			lvl = slog.LevelWarn
		}
		b.logger.Log(ctx, lvl, "publishing response failed", "request_id", resp.RequestID, "error", err)
	}
}
