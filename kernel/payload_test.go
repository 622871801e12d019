package kernel

import (
	"github.com/inference-sim/pdes/kernel/wire"
)

const testPayloadClass uint16 = 0xfff0

type testPayload struct {
	V int64
}

func (p *testPayload) ClassID() uint16 { return testPayloadClass }

func (p *testPayload) Pack(w *wire.Packer) error {
	w.PutInt64(p.V)
	return nil
}

func (p *testPayload) Clone() Payload {
	c := *p
	return &c
}

func init() {
	RegisterPayload(testPayloadClass, func(u *wire.Unpacker) (Payload, error) {
		return &testPayload{V: u.Int64()}, u.Err()
	})
}
