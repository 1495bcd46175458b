package pipeline

// Event types, in the order a run can emit them.
const (
	EventStatus = "status"
	EventError  = "error"
	EventRouted = "routed"
	EventResult = "result"
)

// StatusMessage is the payload of the first event of every run.
const StatusMessage = "Thinking..."

// NoResponseMessage is sent on result when a specialist finished without
// writing a response.
const NoResponseMessage = "No response generated"

// Event is one progress event of a run.
type Event struct {
	Type string
	Data any
}

// EmitFunc delivers an event to the caller. An error means the caller is
// gone and aborts the run.
type EmitFunc func(Event) error

// StatusData is the payload of a status event.
type StatusData struct {
	Message string `json:"message"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Error string `json:"error"`
}

// RoutedData is the payload of a routed event. It carries the router's
// decision as made, before validation.
type RoutedData struct {
	Pillar    string `json:"pillar"`
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
}

func statusEvent() Event {
	return Event{Type: EventStatus, Data: StatusData{Message: StatusMessage}}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Data: ErrorData{Error: msg}}
}

func routedEvent(pillar, action, reasoning string) Event {
	return Event{Type: EventRouted, Data: RoutedData{Pillar: pillar, Action: action, Reasoning: reasoning}}
}

func resultEvent(r Result) Event {
	if r == nil {
		return Event{Type: EventResult, Data: ErrorData{Error: NoResponseMessage}}
	}
	return Event{Type: EventResult, Data: r}
}
