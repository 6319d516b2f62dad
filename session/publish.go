package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aschepis/backscratcher/gateway/llm"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const topicPrefix = "gateway.chat."

func topicFor(sessionID string) string {
	return topicPrefix + sessionID
}

func newPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NopLogger{})
}

// publish wraps the event in an envelope stamped with the publish time and
// broadcasts it on the session's topic. Returns the envelope so the caller
// can record it in the turn timeline.
func (o *Orchestrator) publish(sessionID, streamID string, ev llm.StreamEvent) llm.Envelope {
	env := llm.Envelope{
		SessionID: sessionID,
		StreamID:  streamID,
		Event:     ev,
		At:        time.Now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		o.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to encode envelope")
		return env
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := o.pubsub.Publish(topicFor(sessionID), msg); err != nil {
		o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to publish envelope")
	}
	return env
}

// Subscribe returns a channel of envelopes for one session. The channel
// closes when ctx is cancelled or the orchestrator shuts down. A subscriber
// sees events from the point of subscription onward; there is no replay.
func (o *Orchestrator) Subscribe(ctx context.Context, sessionID string) (<-chan llm.Envelope, error) {
	if sessionID == "" {
		return nil, llm.NewInvalidInputError("empty session id", nil)
	}
	msgs, err := o.pubsub.Subscribe(ctx, topicFor(sessionID))
	if err != nil {
		return nil, llm.NewTransportError("subscribe failed", err)
	}

	out := make(chan llm.Envelope, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var env llm.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("dropping undecodable envelope")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
