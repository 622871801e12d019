package kernel

import (
	"fmt"
	"sync"

	"github.com/inference-sim/pdes/kernel/wire"
)

// Payload is the user message carried by a channel event.
// Payload types that may cross a machine boundary register a factory with
// RegisterPayload, normally from an init() function.
type Payload interface {
	// ClassID identifies the registered factory that rebuilds this payload.
	ClassID() uint16
	// Pack writes the payload body.
	Pack(p *wire.Packer) error
	// Clone returns an independent copy, used when one message fans out to
	// several inchannels.
	Clone() Payload
}

// PayloadFactory rebuilds a payload from the body written by Payload.Pack.
type PayloadFactory func(u *wire.Unpacker) (Payload, error)

var payloadRegistry = struct {
	sync.RWMutex
	factories map[uint16]PayloadFactory
}{factories: make(map[uint16]PayloadFactory)}

// RegisterPayload associates a class id with its factory. Registering the
// same id twice panics.
func RegisterPayload(id uint16, factory PayloadFactory) {
	payloadRegistry.Lock()
	defer payloadRegistry.Unlock()
	if _, dup := payloadRegistry.factories[id]; dup {
		panic(fmt.Sprintf("payload class %d registered twice", id))
	}
	payloadRegistry.factories[id] = factory
}

// LookupPayload returns the factory registered for a class id.
func LookupPayload(id uint16) (PayloadFactory, bool) {
	payloadRegistry.RLock()
	defer payloadRegistry.RUnlock()
	f, ok := payloadRegistry.factories[id]
	return f, ok
}

// packPayload writes the (class id, length) header followed by the body.
func packPayload(p *wire.Packer, pl Payload) error {
	body := wire.NewPacker(64)
	if err := pl.Pack(body); err != nil {
		return fmt.Errorf("pack payload class %d: %w", pl.ClassID(), err)
	}
	p.PutUint16(pl.ClassID())
	return p.PutBytes(body.Bytes())
}

func unpackPayload(u *wire.Unpacker) (Payload, error) {
	id := u.Uint16()
	body := u.Bytes()
	if err := u.Err(); err != nil {
		return nil, err
	}
	factory, ok := LookupPayload(id)
	if !ok {
		return nil, fmt.Errorf("unpack payload: class %d not registered", id)
	}
	bu := wire.NewUnpacker(body)
	pl, err := factory(bu)
	if err != nil {
		return nil, fmt.Errorf("unpack payload class %d: %w", id, err)
	}
	if err := bu.Err(); err != nil {
		return nil, fmt.Errorf("unpack payload class %d: %w", id, err)
	}
	return pl, nil
}
