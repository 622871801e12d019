package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeze_ResolvesMappingsIntoGatesAndPortals(t *testing.T) {
	// GIVEN a sender mapped twice to one timeline and once to another
	b := newBuilder()
	src := b.NewEntity("src")
	a := b.NewEntity("a")
	a2 := b.NewEntity("a2", AlignWith(a))
	c := b.NewEntity("c")
	inA, inA2 := a.NewInChannel("a.in"), a2.NewInChannel("a2.in")
	c.NewInChannel("c.in")
	out := src.NewOutChannel()
	require.NoError(t, out.MapTo(inA, 30))
	require.NoError(t, out.MapTo(inA2, 30))
	require.NoError(t, out.MapToName("c.in", 15))
	require.NoError(t, out.MapTo(inA, 10))

	// WHEN frozen
	topo, err := b.freeze()
	require.NoError(t, err)

	// THEN entities aligned with a share its timeline, one gate per timeline
	// pair carries the smallest delay and portals group equal delays
	assert.Same(t, a.Timeline(), a2.Timeline())
	assert.Len(t, topo.Timelines(), 3)
	require.Len(t, topo.Gates(), 2)
	assert.Equal(t, VirtualTime(10), topo.Gates()[0].MinDelay())
	assert.Equal(t, VirtualTime(15), topo.Gates()[1].MinDelay())
	require.Len(t, topo.Portals(), 3)
	assert.Equal(t, []*InChannel{inA, inA2}, topo.Portals()[0].InChannels())
	assert.Equal(t, VirtualTime(10), topo.Portals()[2].Delay())
}

func TestFreeze_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		want  error
	}{
		{"no entities", func(b *Builder) {}, ErrConfig},
		{"unknown channel name", func(b *Builder) {
			e := b.NewEntity("e")
			_ = e.NewOutChannel().MapToName("missing", 10)
		}, ErrUnmappedChannel},
		{"zero lookahead between timelines", func(b *Builder) {
			x, y := b.NewEntity("x"), b.NewEntity("y")
			_ = x.NewOutChannel().MapTo(y.NewInChannel(""), 0)
		}, ErrConfig},
		{"duplicate inchannel name", func(b *Builder) {
			x, y := b.NewEntity("x"), b.NewEntity("y")
			x.NewInChannel("dup")
			y.NewInChannel("dup")
		}, ErrConfig},
		{"alignment with a foreign entity", func(b *Builder) {
			other := newBuilder().NewEntity("foreign")
			b.NewEntity("x", AlignWith(other))
		}, ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder()
			tt.build(b)
			_, err := b.freeze()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFreeze_ZeroDelayOnSelfLoopIsAllowed(t *testing.T) {
	b := newBuilder()
	e := b.NewEntity("e")
	require.NoError(t, e.NewOutChannel().MapTo(e.NewInChannel("self"), 0))
	_, err := b.freeze()
	assert.NoError(t, err)
}

func TestBuilder_RejectsChangesAfterFreeze(t *testing.T) {
	b := newBuilder()
	e := b.NewEntity("e")
	out := e.NewOutChannel()
	in := e.NewInChannel("in")
	_, err := b.freeze()
	require.NoError(t, err)

	assert.ErrorIs(t, out.MapTo(in, 1), ErrPhase)
	_, err = b.freeze()
	assert.ErrorIs(t, err, ErrPhase)
	b.NewEntity("late")
	assert.ErrorIs(t, b.Err(), ErrPhase)
}

func TestBuilder_MappingArguments(t *testing.T) {
	b := newBuilder()
	out := b.NewEntity("e").NewOutChannel()
	assert.ErrorIs(t, out.MapTo(nil, 1), ErrConfig)
	assert.ErrorIs(t, out.MapToName("x", -1), ErrConfig)
}

func TestBuilder_ChannelNamesAreNormalized(t *testing.T) {
	b := newBuilder()
	x, y := b.NewEntity("x"), b.NewEntity("y")
	in := y.NewInChannel("caf\u00e9")
	require.NoError(t, x.NewOutChannel().MapToName("cafe\u0301", 5))
	topo, err := b.freeze()
	require.NoError(t, err)
	assert.Equal(t, []*InChannel{in}, topo.Portals()[0].InChannels())
	got, ok := b.InChannel("cafe\u0301")
	assert.True(t, ok)
	assert.Same(t, in, got)
}

func TestPartition_ContiguousBlocksAndTiers(t *testing.T) {
	// GIVEN eight timelines in a ring with a self loop on the first
	b := newBuilder()
	ents := make([]*Entity, 8)
	ins := make([]*InChannel, 8)
	for i := range ents {
		ents[i] = b.NewEntity("n")
		ins[i] = ents[i].NewInChannel("")
	}
	for i, e := range ents {
		require.NoError(t, e.NewOutChannel().MapTo(ins[(i+1)%8], 10))
	}
	require.NoError(t, ents[0].NewOutChannel().MapTo(ins[0], 10))
	topo, err := b.freeze()
	require.NoError(t, err)

	// WHEN spread over two machines with two universes each
	topo.partition(2, 2)

	// THEN serials 0-3 sit on machine 0, 4-7 on machine 1, two per universe
	for s, tl := range topo.Timelines() {
		assert.Equal(t, s/4, tl.Machine(), "serial %d", s)
		assert.Equal(t, (s%4)/2, tl.Proc(), "serial %d", s)
	}
	tiers := make(map[GateTier]int)
	for _, g := range topo.Gates() {
		tiers[g.Tier()]++
	}
	assert.Equal(t, map[GateTier]int{TierIntra: 4, TierLocal: 2, TierGlobal: 2, TierSelf: 1}, tiers)

	local, global := topo.lookaheads()
	assert.Equal(t, map[VirtualTime]int{10: 6}, local)
	assert.Equal(t, map[VirtualTime]int{10: 2}, global)
}

func TestPartition_MoreMachinesThanTimelines(t *testing.T) {
	b := newBuilder()
	b.NewEntity("a")
	b.NewEntity("b")
	topo, err := b.freeze()
	require.NoError(t, err)
	topo.partition(4, 3)
	assert.Equal(t, 0, topo.Timelines()[0].Machine())
	assert.Equal(t, 2, topo.Timelines()[1].Machine())
	assert.Equal(t, 0, topo.Timelines()[1].Proc())
}
