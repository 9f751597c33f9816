// Package xplane implements the telemetry session against the simulator's
// UDP interface: beacon discovery, dataref subscription (RREF), scalar
// writes (DREF), command dispatch (CMND), and the connection supervisor
// that keeps the session alive.
package xplane

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire framing constants. Request sizes are fixed; the simulator rejects
// anything else.
const (
	rrefRequestLen = 413
	rrefPathLen    = 400
	drefRequestLen = 509
	drefPathLen    = 500

	maxPacketLen = 1472 // Ethernet MTU minus IP and UDP headers
)

var (
	beaconHeader = []byte("BECN\x00")
	rrefHeader   = []byte("RREF\x00")
	sampleHeader = []byte("RREF,")
	drefHeader   = []byte("DREF\x00")
	cmndHeader   = []byte("CMND0")
)

// encodeRREF builds a dataref subscription request: header, frequency,
// request index, and the channel path padded to 400 bytes. Frequency zero
// cancels the subscription.
func encodeRREF(freq, index int32, path string) ([]byte, error) {
	if len(path) >= rrefPathLen {
		return nil, fmt.Errorf("dataref path too long (%d bytes): %s", len(path), path)
	}

	msg := make([]byte, rrefRequestLen)
	copy(msg, rrefHeader)
	binary.LittleEndian.PutUint32(msg[5:], uint32(freq))
	binary.LittleEndian.PutUint32(msg[9:], uint32(index))
	copy(msg[13:], path)
	return msg, nil
}

// sample is one decoded (index, value) pair from an RREF response packet.
type sample struct {
	index int32
	value float64
}

// decodeSamples parses an inbound packet. A packet carries the "RREF,"
// header followed by 8-byte pairs: request index (i32le) and value (f32le).
// Values just below zero are normalized to +0.0, the simulator emits -0.0
// and near-zero noise for boolean-like channels.
func decodeSamples(data []byte) ([]sample, error) {
	if len(data) < len(sampleHeader) || string(data[:len(sampleHeader)]) != string(sampleHeader) {
		return nil, fmt.Errorf("unexpected packet header: %x", data[:min(len(data), 5)])
	}

	body := data[len(sampleHeader):]
	const pairLen = 8
	n := len(body) / pairLen

	samples := make([]sample, 0, n)
	for i := 0; i < n; i++ {
		pair := body[i*pairLen : (i+1)*pairLen]
		idx := int32(binary.LittleEndian.Uint32(pair[:4]))
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(pair[4:])))
		// Signbit catches exact -0.0, which compares equal to 0.0.
		if math.Signbit(v) && v > -0.001 {
			v = 0.0
		}
		samples = append(samples, sample{index: idx, value: v})
	}
	return samples, nil
}

// encodeDREF builds a scalar write request: header, f32 value, and the
// NUL-terminated path space-padded to 500 bytes.
func encodeDREF(path string, value float64) ([]byte, error) {
	if len(path)+1 >= drefPathLen {
		return nil, fmt.Errorf("dataref path too long (%d bytes): %s", len(path), path)
	}

	msg := make([]byte, drefRequestLen)
	copy(msg, drefHeader)
	binary.LittleEndian.PutUint32(msg[5:], math.Float32bits(float32(value)))
	copy(msg[9:], path)
	msg[9+len(path)] = 0
	for i := 9 + len(path) + 1; i < drefRequestLen; i++ {
		msg[i] = ' '
	}
	return msg, nil
}

// encodeCMND builds a command execution request.
func encodeCMND(path string) []byte {
	msg := make([]byte, 0, len(cmndHeader)+len(path))
	msg = append(msg, cmndHeader...)
	msg = append(msg, path...)
	return msg
}

// beaconInfo is the decoded simulator announcement.
type beaconInfo struct {
	Major    uint8
	Minor    uint8
	HostID   int32
	Version  int32
	Role     uint32
	Port     uint16
	Hostname string
}

// decodeBeacon parses a multicast beacon packet. Only the packet layout is
// checked here; version acceptance is the caller's policy.
func decodeBeacon(data []byte) (beaconInfo, error) {
	var info beaconInfo
	if len(data) < 21 || string(data[:5]) != string(beaconHeader) {
		return info, fmt.Errorf("not a beacon packet (%d bytes)", len(data))
	}

	body := data[5:21]
	info.Major = body[0]
	info.Minor = body[1]
	info.HostID = int32(binary.LittleEndian.Uint32(body[2:6]))
	info.Version = int32(binary.LittleEndian.Uint32(body[6:10]))
	info.Role = binary.LittleEndian.Uint32(body[10:14])
	info.Port = binary.LittleEndian.Uint16(body[14:16])

	host := data[21:]
	for i, b := range host {
		if b == 0 {
			host = host[:i]
			break
		}
	}
	info.Hostname = string(host)
	return info, nil
}

// usable reports whether a beacon announces a simulator instance this bridge
// can talk to.
func (b beaconInfo) usable() bool {
	return b.Major == 1 && b.Minor <= 2 && b.HostID == 1
}
