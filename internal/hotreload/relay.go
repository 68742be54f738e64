package hotreload

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/opsboard/opsboard/internal/logging"
)

type Reloader interface {
	TriggerReload()
}

// Relay turns frontend change batches into reload events. Backend changes
// cannot be applied live and are only logged.
type Relay struct {
	sub    message.Subscriber
	target Reloader
	log    zerolog.Logger
}

func NewRelay(sub message.Subscriber, target Reloader) *Relay {
	return &Relay{sub: sub, target: target, log: logging.Component("hotreload")}
}

func (r *Relay) Run(ctx context.Context) error {
	msgs, err := r.sub.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}
	for msg := range msgs {
		r.handle(msg)
		msg.Ack()
	}
	return nil
}

func (r *Relay) handle(msg *message.Message) {
	var paths []string
	if err := json.Unmarshal(msg.Payload, &paths); err != nil {
		r.log.Debug().Err(err).Str("uuid", msg.UUID).Msg("undecodable change payload")
	}

	switch ChangeKind(msg.Metadata.Get(kindKey)) {
	case FrontendChanged:
		r.log.Info().Strs("paths", paths).Msg("frontend changed, reloading clients")
		r.target.TriggerReload()
	case BackendChanged:
		r.log.Warn().Strs("paths", paths).Msg("backend source changed, restart the server to apply")
	default:
		r.log.Debug().Strs("paths", paths).Msg("ignoring change")
	}
}
