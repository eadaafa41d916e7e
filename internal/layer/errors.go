package layer

import "errors"

var (
	// ErrNilMessage is returned by Process when called without a message.
	ErrNilMessage = errors.New("nil proxy message")
	// ErrNilLayer is returned by SetUpperLayer for a nil layer.
	ErrNilLayer = errors.New("nil upper layer")
	// ErrUpperLayerSet is returned when a layer is linked a second time.
	ErrUpperLayerSet = errors.New("upper layer already set")
	// ErrChainInUse is returned when linking a layer that has already processed a message.
	ErrChainInUse = errors.New("layer chain already in use")
	// ErrNoResponse is returned when the last layer declines to answer.
	ErrNoResponse = errors.New("no response produced")

	// ErrBadURI is returned when no valid CoAP URI can be built for a message.
	ErrBadURI = errors.New("bad target URI")
	// ErrTimeout is returned when the CoAP reply does not arrive in time.
	ErrTimeout = errors.New("target exchange timed out")
	// ErrTransport wraps connectivity failures talking to the CoAP target.
	ErrTransport = errors.New("target transport failure")
)
