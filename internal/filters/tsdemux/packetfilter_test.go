package tsdemux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePacket(pid uint16, afc, cc byte, tei bool) []byte {
	pkt := make([]byte, tsPacketSize)
	pkt[0] = 0x47
	pkt[1] = byte(pid >> 8 & 0x1F)
	if tei {
		pkt[1] |= 0x80
	}
	pkt[2] = byte(pid & 0xFF)
	pkt[3] = (afc << 4) | (cc & 0xF)
	return pkt
}

func TestPacketFilter_DropsTEI(t *testing.T) {
	pf := newPacketFilter()
	pkt := makePacket(100, 0x1, 0, true)
	out := pf.push(pkt)
	assert.Empty(t, out)
}

func TestPacketFilter_DropsRepeatedContinuityCounter(t *testing.T) {
	pf := newPacketFilter()
	first := pf.push(makePacket(100, 0x1, 5, false))
	require.Len(t, first, 1)

	repeat := pf.push(makePacket(100, 0x1, 5, false))
	assert.Empty(t, repeat, "a repeated continuity_counter for the same PID must produce no packet")

	advanced := pf.push(makePacket(100, 0x1, 6, false))
	assert.Len(t, advanced, 1)
}

func TestPacketFilter_IndependentPerPID(t *testing.T) {
	pf := newPacketFilter()
	require.Len(t, pf.push(makePacket(100, 0x1, 3, false)), 1)
	require.Len(t, pf.push(makePacket(200, 0x1, 3, false)), 1, "a different PID's continuity_counter is tracked independently")
}

func TestPacketFilter_AdaptationFieldOnlyPacketsBypassContinuityCheck(t *testing.T) {
	pf := newPacketFilter()
	require.Len(t, pf.push(makePacket(100, 0x1, 7, false)), 1)
	// adaptation_field_control == 0x2 carries no payload, so repeating the
	// same continuity_counter is legal and must not be dropped.
	assert.Len(t, pf.push(makePacket(100, 0x2, 7, false)), 1)
}

func TestPacketFilter_ResyncsOnBadSyncByte(t *testing.T) {
	pf := newPacketFilter()
	good := makePacket(100, 0x1, 0, false)
	garbage := append([]byte{0x00, 0x01, 0x02}, good...)
	out := pf.push(garbage)
	require.Len(t, out, 1)
	assert.Equal(t, good, out[0])
}
