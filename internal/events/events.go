// Package events defines the event stream the protocol client publishes to
// its consumer.
//
// Events form a sum of sums: every Event belongs to exactly one of four
// categories, and each category is itself a closed set of event types.
// Interaction events wait for an answer from the consumer; the other three
// categories are fire-and-forget.
package events

// Category partitions the event stream.
type Category int

const (
	// CategoryProtocol covers standard session notifications from the agent.
	CategoryProtocol Category = iota
	// CategoryInteraction covers agent requests that need a consumer answer.
	CategoryInteraction
	// CategoryExtension covers vendor notifications under the "_" prefix.
	CategoryExtension
	// CategoryInternal covers events originated by the client itself:
	// capability results, hooks, feedback and transport state.
	CategoryInternal
)

func (c Category) String() string {
	switch c {
	case CategoryProtocol:
		return "protocol"
	case CategoryInteraction:
		return "interaction"
	case CategoryExtension:
		return "extension"
	case CategoryInternal:
		return "internal"
	}
	return "unknown"
}

// Event is any event on the stream.
type Event interface {
	Category() Category
	// Name is a stable dotted identifier, used on the relay wire.
	Name() string
	isEvent()
}

// Protocol is an event translated from a standard agent notification.
type Protocol interface {
	Event
	isProtocol()
}

// Interaction is an agent request suspended until the consumer answers it.
type Interaction interface {
	Event
	// RequestID identifies the pending request the consumer must answer.
	RequestID() string
	isInteraction()
}

// Extension is an event translated from a vendor notification.
type Extension interface {
	Event
	isExtension()
}

// Internal is an event originated by the client.
type Internal interface {
	Event
	isInternal()
}

type protocolEvent struct{}

func (protocolEvent) Category() Category { return CategoryProtocol }
func (protocolEvent) isEvent()           {}
func (protocolEvent) isProtocol()        {}

type interactionEvent struct{}

func (interactionEvent) Category() Category { return CategoryInteraction }
func (interactionEvent) isEvent()           {}
func (interactionEvent) isInteraction()     {}

type extensionEvent struct{}

func (extensionEvent) Category() Category { return CategoryExtension }
func (extensionEvent) isEvent()           {}
func (extensionEvent) isExtension()       {}

type internalEvent struct{}

func (internalEvent) Category() Category { return CategoryInternal }
func (internalEvent) isEvent()           {}
func (internalEvent) isInternal()        {}

// ProtocolHandler receives protocol events.
type ProtocolHandler interface {
	HandleProtocol(Protocol)
}

// InteractionHandler receives interaction events.
type InteractionHandler interface {
	HandleInteraction(Interaction)
}

// ExtensionHandler receives extension events.
type ExtensionHandler interface {
	HandleExtension(Extension)
}

// InternalHandler receives internal events.
type InternalHandler interface {
	HandleInternal(Internal)
}

// Router sends each event to the handler of its category. Nil handlers drop
// their category.
type Router struct {
	Protocol    ProtocolHandler
	Interaction InteractionHandler
	Extension   ExtensionHandler
	Internal    InternalHandler
}

// Dispatch routes one event.
func (r Router) Dispatch(ev Event) {
	switch e := ev.(type) {
	case Protocol:
		if r.Protocol != nil {
			r.Protocol.HandleProtocol(e)
		}
	case Interaction:
		if r.Interaction != nil {
			r.Interaction.HandleInteraction(e)
		}
	case Extension:
		if r.Extension != nil {
			r.Extension.HandleExtension(e)
		}
	case Internal:
		if r.Internal != nil {
			r.Internal.HandleInternal(e)
		}
	}
}

// ProtocolFunc adapts a function to ProtocolHandler.
type ProtocolFunc func(Protocol)

func (f ProtocolFunc) HandleProtocol(e Protocol) { f(e) }

// InteractionFunc adapts a function to InteractionHandler.
type InteractionFunc func(Interaction)

func (f InteractionFunc) HandleInteraction(e Interaction) { f(e) }

// ExtensionFunc adapts a function to ExtensionHandler.
type ExtensionFunc func(Extension)

func (f ExtensionFunc) HandleExtension(e Extension) { f(e) }

// InternalFunc adapts a function to InternalHandler.
type InternalFunc func(Internal)

func (f InternalFunc) HandleInternal(e Internal) { f(e) }
