package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/pdes/kernel"
	"github.com/inference-sim/pdes/kernel/wire"
)

func TestNew_UnknownModel_ListsRegisteredNames(t *testing.T) {
	_, err := New("nope", Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phold")
	assert.Equal(t, []string{"phold", "pingpong", "ring"}, Names())
}

func TestNew_ZeroParams_TakeDefaults(t *testing.T) {
	m, err := New("phold", Params{Timelines: 3})
	require.NoError(t, err)
	p := m.(*PHOLD).p
	assert.Equal(t, 3, p.Timelines)
	assert.Equal(t, DefaultParams().Lookahead, p.Lookahead)
	assert.Equal(t, DefaultParams().Population, p.Population)
}

func TestMerge_IsOrderIndependent(t *testing.T) {
	a := Report{Model: "phold", Entities: 2, Sent: 10, Received: 7, Digest: 0xf0f0}
	b := Report{Model: "phold", Entities: 3, Sent: 5, Received: 9, Digest: 0x0ff1}
	ab, ba := Merge(a, b), Merge(b, a)
	assert.Equal(t, ab, ba)
	assert.Equal(t, 5, ab.Entities)
	assert.Equal(t, int64(15), ab.Sent)
	assert.Equal(t, uint64(0xf0f0^0x0ff1), ab.Digest)
}

func TestEntityDigest_OrderSensitive(t *testing.T) {
	var x, y entityDigest
	x.add(1)
	x.add(2)
	y.add(2)
	y.add(1)
	assert.NotEqual(t, x.sum, y.sum)
}

func TestToken_Visit_KeepsMostRecentStations(t *testing.T) {
	tok := &Token{ID: 1}
	for i := 0; i < 6; i++ {
		tok.visit("s", kernel.FromTicks(int64(i)))
	}
	require.Len(t, tok.Trail, 2*tokenTrailLen)
	assert.Equal(t, wire.Int(2), tok.Trail[1])
	assert.Equal(t, wire.Int(5), tok.Trail[len(tok.Trail)-1])
}

func TestToken_Clone_DoesNotShareTrail(t *testing.T) {
	tok := &Token{ID: 1}
	tok.visit("a", 0)
	c := tok.Clone().(*Token)
	c.visit("b", 1)
	assert.Len(t, tok.Trail, 2)
	assert.Len(t, c.Trail, 4)
}

func TestPayloads_PackUnpack(t *testing.T) {
	tok := &Token{ID: 7, Laps: 2}
	tok.visit("ring/3", kernel.FromTicks(40))
	for _, pl := range []kernel.Payload{&Ball{Hits: 3}, &Job{Origin: 2, ID: 9, Hops: 4}, tok} {
		p := wire.NewPacker(64)
		require.NoError(t, pl.Pack(p))
		factory, ok := kernel.LookupPayload(pl.ClassID())
		require.True(t, ok)
		got, err := factory(wire.NewUnpacker(p.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, pl, got)
	}
}
