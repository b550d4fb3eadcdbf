// Package codec translates WS07 thermo beacon GATT responses into readings.
//
// Status response: [0] opcode, [1:3] available data points (uint16 LE).
// Data response:   [6:8] temperature, [8:10] humidity, both uint16 LE in
// 1/16 fixed point with a 12-bit signed range.
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	availableOffset = 1
	valuesOffset    = 6

	// fixedPointScale converts the raw register value to degrees / percent.
	fixedPointScale = 0.0625
	signBoundary    = 2048
	twelveBitSpan   = 4096

	readOpcode = "07"
	readSuffix = "000003"
)

var (
	ErrShortResponse  = errors.New("codec: response too short")
	ErrInvalidAddress = errors.New("codec: invalid MAC address")
)

// StatusCommand asks the device how many data points it currently holds.
var StatusCommand = []byte{0x01, 0x00, 0x00, 0x00, 0x00}

var macRe = regexp.MustCompile(`^[0-9a-f]{12}$`)

// Available returns the number of data points reported in a status response.
func Available(resp []byte) (uint16, error) {
	if len(resp) < availableOffset+2 {
		return 0, fmt.Errorf("%w: status needs %d bytes, got %d", ErrShortResponse, availableOffset+2, len(resp))
	}
	return binary.LittleEndian.Uint16(resp[availableOffset : availableOffset+2]), nil
}

// ReadCommandHex builds the request for data point index as a hex string:
// "07" + index as 4 hex digits with the two bytes swapped + "000003".
func ReadCommandHex(index uint16) string {
	offset := fmt.Sprintf("%04x", index)
	swapped := offset[2:] + offset[:2]
	return readOpcode + swapped + readSuffix
}

// ReadCommand is ReadCommandHex as the bytes written to the device.
func ReadCommand(index uint16) []byte {
	b, err := hex.DecodeString(ReadCommandHex(index))
	if err != nil {
		// ReadCommandHex only emits hex digits.
		panic(err)
	}
	return b
}

// FixedPoint converts one raw register value into its physical reading.
//
// Registers in (2048, 4096) hold a 12-bit two's complement value. Wider
// registers are the 16-bit form the device reports below zero, corrected
// after scaling. Exactly 2048, raw or scaled, is never corrected.
func FixedPoint(raw uint16) float64 {
	if raw > signBoundary && raw < twelveBitSpan {
		return -float64(twelveBitSpan-int(raw)) * fixedPointScale
	}
	v := float64(raw) * fixedPointScale
	if v > signBoundary {
		v = -(twelveBitSpan - v)
	}
	return v
}

// DecodeReadings extracts temperature and humidity from a data response.
func DecodeReadings(resp []byte) ([2]float64, error) {
	var out [2]float64
	need := valuesOffset + len(out)*2
	if len(resp) < need {
		return out, fmt.Errorf("%w: data needs %d bytes, got %d", ErrShortResponse, need, len(resp))
	}
	for v := range out {
		pos := valuesOffset + v*2
		out[v] = FixedPoint(binary.LittleEndian.Uint16(resp[pos : pos+2]))
	}
	return out, nil
}

// MACToInt converts "AA:BB:CC:DD:EE:FF" (any case, ':' or '-' separated or
// bare) into its 48-bit integer value.
func MACToInt(addr string) (uint64, error) {
	norm := strings.ToLower(addr)
	norm = strings.ReplaceAll(norm, ":", "")
	norm = strings.ReplaceAll(norm, "-", "")
	if !macRe.MatchString(norm) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	n, err := strconv.ParseUint(norm, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
	}
	return n, nil
}

// FormatHex renders b as space separated, zero padded hex bytes.
func FormatHex(b []byte) string {
	const hexd = "0123456789abcdef"
	out := make([]byte, 0, len(b)*3)
	for i, x := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	return string(out)
}
