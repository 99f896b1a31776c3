package uploadhandlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/The127/ioc"
	"github.com/gorilla/mux"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/registry"
	"github.com/the127/upyard/internal/services/events"
	"github.com/the127/upyard/internal/session"
	"github.com/the127/upyard/internal/utils/apiError"
	"github.com/the127/upyard/internal/wire"
)

// a dropped event is noticed at the latest after this long
const eventsPollInterval = 5 * time.Second

// StreamEvents writes the session's status changes as newline delimited JSON
// until the session reaches a terminal state or the client goes away. The
// current state is always the first event.
func StreamEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionId := vars["session"]

	ctx := r.Context()
	scope := middlewares.GetScope(ctx)
	sessionRegistry := ioc.GetDependency[*registry.Registry](scope)
	broker := ioc.GetDependency[*events.Broker](scope)

	// subscribe before reading the state so no transition falls in between
	subscription, cancel := broker.Subscribe(sessionId)
	defer cancel()

	s, err := sessionRegistry.Get(sessionId)
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", wire.MediaTypeNdjson)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	stream := &eventStream{
		encoder:    json.NewEncoder(w),
		controller: http.NewResponseController(w),
		sessionId:  sessionId,
	}

	if !stream.send(s.State()) {
		return
	}

	ticker := time.NewTicker(eventsPollInterval)
	defer ticker.Stop()

	for !stream.last.IsTerminal() {
		select {
		case <-ctx.Done():
			return

		case event := <-subscription:
			if !stream.send(session.State(event.Payload)) {
				return
			}

		case <-ticker.C:
			if !stream.send(s.State()) {
				return
			}
		}
	}
}

type eventStream struct {
	encoder    *json.Encoder
	controller *http.ResponseController
	sessionId  string
	last       session.State
}

// send writes state unless it repeats or precedes the last state written.
// Buffered events can be older than a state read later. It reports whether
// the stream is still usable.
func (e *eventStream) send(state session.State) bool {
	if state == e.last || state.Before(e.last) {
		return true
	}
	e.last = state

	err := e.encoder.Encode(events.StatusChange(e.sessionId, string(state)))
	if err != nil {
		logging.Logger.Debugw("event stream closed", "session", e.sessionId, "error", err)
		return false
	}

	err = e.controller.Flush()
	if err != nil {
		logging.Logger.Debugw("event stream flush failed", "session", e.sessionId, "error", err)
		return false
	}

	return true
}
