// Package slack implements the Slack source adapter over Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/mehdiaksoy/mateai/pkg/models"
)

// Adapter streams Slack messages as raw events. One instance maintains one
// Socket Mode connection.
type Adapter struct {
	api    *goslack.Client
	sock   *socketmode.Client
	events chan models.RawEventInput
	log    *slog.Logger

	mu        sync.Mutex
	selfID    string
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

// New creates the adapter from bot and app-level tokens.
func New(botToken, appToken string) *Adapter {
	api := goslack.New(botToken, goslack.OptionAppLevelToken(appToken))
	return &Adapter{
		api:    api,
		sock:   socketmode.New(api),
		events: make(chan models.RawEventInput, 64),
		log:    slog.With("component", "slack-adapter"),
	}
}

// Name returns the source tag.
func (a *Adapter) Name() string { return "slack" }

// SelfID returns the bot's user id, known after Connect.
func (a *Adapter) SelfID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selfID
}

// Connect authenticates, opens the Socket Mode connection, and starts the
// event pump.
func (a *Adapter) Connect(ctx context.Context) error {
	auth, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	a.mu.Lock()
	a.selfID = auth.UserID
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	a.runDone = make(chan struct{})
	a.mu.Unlock()

	a.log.Info("Slack adapter authenticated", "bot_user_id", auth.UserID)

	go func() {
		defer close(a.runDone)
		if err := a.sock.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("Socket mode run ended", "error", err)
		}
	}()
	go a.pump(runCtx)
	return nil
}

// Disconnect stops the Socket Mode connection and closes the event stream.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancelRun
	done := a.runDone
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	close(a.events)
	return nil
}

// Events returns the normalized event stream.
func (a *Adapter) Events() <-chan models.RawEventInput {
	return a.events
}

// HealthCheck verifies the API connection.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.api.AuthTestContext(ctx)
	return err
}

// pump translates socket-mode events into raw events.
func (a *Adapter) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.sock.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				a.log.Info("Socket mode connected")
			case socketmode.EventTypeConnectionError:
				a.log.Warn("Socket mode connection error")
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					a.sock.Ack(*evt.Request)
				}
				a.handleEventsAPI(ctx, apiEvent)
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Skip message subtypes without memorable content (joins, topic
	// changes, edits carry their own follow-up events).
	if msg.SubType != "" || msg.Text == "" {
		return
	}

	event := models.RawEventInput{
		Source:     "slack",
		EventType:  "message",
		ExternalID: msg.Channel + ":" + msg.TimeStamp,
		Payload: map[string]any{
			"text":      msg.Text,
			"user":      msg.User,
			"channel":   msg.Channel,
			"thread_ts": msg.ThreadTimeStamp,
		},
		Metadata: map[string]any{
			"channel_type": msg.ChannelType,
		},
		Timestamp: slackTimestamp(msg.TimeStamp),
	}

	select {
	case a.events <- event:
	case <-ctx.Done():
	}
}

// slackTimestamp parses Slack's "seconds.micros" message timestamp.
func slackTimestamp(ts string) time.Time {
	var sec, usec int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &usec); err != nil {
		return time.Now().UTC()
	}
	return time.Unix(sec, usec*1000).UTC()
}
