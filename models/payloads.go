package models

import (
	"github.com/inference-sim/pdes/kernel"
	"github.com/inference-sim/pdes/kernel/wire"
)

// Payload class ids.
const (
	ClassBall  uint16 = 1
	ClassJob   uint16 = 2
	ClassToken uint16 = 3
)

func init() {
	kernel.RegisterPayload(ClassBall, func(u *wire.Unpacker) (kernel.Payload, error) {
		return &Ball{Hits: u.Int64()}, u.Err()
	})
	kernel.RegisterPayload(ClassJob, func(u *wire.Unpacker) (kernel.Payload, error) {
		return &Job{Origin: u.Uint32(), ID: u.Int64(), Hops: u.Int64()}, u.Err()
	})
	kernel.RegisterPayload(ClassToken, func(u *wire.Unpacker) (kernel.Payload, error) {
		t := &Token{ID: u.Int64(), Laps: u.Int64()}
		vals, err := u.Values()
		if err != nil {
			return nil, err
		}
		t.Trail = vals
		return t, u.Err()
	})
}

// Ball bounces between the two ping-pong players.
type Ball struct {
	Hits int64
}

func (b *Ball) ClassID() uint16 { return ClassBall }

func (b *Ball) Pack(p *wire.Packer) error {
	p.PutInt64(b.Hits)
	return nil
}

func (b *Ball) Clone() kernel.Payload {
	c := *b
	return &c
}

// Job is a PHOLD message.
type Job struct {
	Origin uint32
	ID     int64
	Hops   int64
}

func (j *Job) ClassID() uint16 { return ClassJob }

func (j *Job) Pack(p *wire.Packer) error {
	p.PutUint32(j.Origin)
	p.PutInt64(j.ID)
	p.PutInt64(j.Hops)
	return nil
}

func (j *Job) Clone() kernel.Payload {
	c := *j
	return &c
}

// Token circulates around the ring, recording the last stations it visited.
type Token struct {
	ID    int64
	Laps  int64
	Trail []wire.Value
}

const tokenTrailLen = 4

func (t *Token) ClassID() uint16 { return ClassToken }

func (t *Token) Pack(p *wire.Packer) error {
	p.PutInt64(t.ID)
	p.PutInt64(t.Laps)
	return p.PutValues(t.Trail)
}

func (t *Token) Clone() kernel.Payload {
	c := *t
	c.Trail = append([]wire.Value(nil), t.Trail...)
	return &c
}

// visit appends a station to the trail, keeping the most recent ones.
func (t *Token) visit(station string, at kernel.VirtualTime) {
	t.Trail = append(t.Trail, wire.Str(station), wire.Int(at.Ticks()))
	if over := len(t.Trail) - 2*tokenTrailLen; over > 0 {
		t.Trail = append(t.Trail[:0], t.Trail[over:]...)
	}
}
