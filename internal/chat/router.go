package chat

import (
	"sync"

	"github.com/danmuck/chatrelay/internal/observability"
	"github.com/rs/zerolog/log"
)

// Router fans messages out over the sinks held in a Registry.
// It keeps no state of its own.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Broadcast delivers "MESSAGE <text>" to every registered sink and returns once each
// delivery has finished or failed. Failures stay per recipient.
func (r *Router) Broadcast(text string) {
	observability.RecordMessage(observability.KindBroadcast)
	line := FrameMessage(text)
	sinks := r.registry.SnapshotSinks()

	var wg sync.WaitGroup
	for _, sink := range sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			r.deliver(observability.KindBroadcast, sink, line)
		}(sink)
	}
	wg.Wait()
}

// Whisper delivers one line to target only. Unknown targets are dropped silently.
func (r *Router) Whisper(sender, target, text string) {
	observability.RecordMessage(observability.KindWhisper)
	sink, ok := r.registry.LookupSink(target)
	if !ok {
		observability.RecordWhisperDropped()
		log.Debug().Str("sender", sender).Str("target", target).Msg("chat.router whisper target not registered")
		return
	}
	r.deliver(observability.KindWhisper, sink, FrameWhisper(sender, text))
}

func (r *Router) deliver(kind string, sink Sink, line string) {
	err := sink.Deliver(line)
	observability.RecordDelivery(kind, err == nil)
	if err != nil {
		log.Debug().Err(err).Str("kind", kind).Msg("chat.router delivery failed")
	}
}
