package usbbridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge indicates a command payload that does not fit one EP5 transfer
	ErrPayloadTooLarge = errors.New("payload exceeds EP5 buffer")

	errNoMarker   = errors.New("no response marker found")
	errIncomplete = errors.New("incomplete response")
	errMismatch   = errors.New("response mismatch")
)

// encodeFrame builds an EP5 command
// Protocol: app(1) + cmd(1) + length(2 LE) + payload
func encodeFrame(app, cmd uint8, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(payload), maxPayload)
	}
	packet := make([]byte, headerSize+len(payload))
	packet[0] = app
	packet[1] = cmd
	binary.LittleEndian.PutUint16(packet[2:4], uint16(len(payload)))
	copy(packet[headerSize:], payload)
	return packet, nil
}

// parseResponse looks for a complete response to app/cmd at the front of buf.
// Response format: '@'(1) + app(1) + cmd(1) + length(2 LE) + payload
//
// On success it returns a copy of the payload and whatever follows it. A
// response for a different app/cmd is skipped: the returned remainder starts
// past its marker so the caller can search again.
func parseResponse(buf []byte, app, cmd uint8) (payload, remaining []byte, err error) {
	markerIdx := bytes.IndexByte(buf, ResponseMarker)
	if markerIdx == -1 {
		return nil, buf[:0], errNoMarker
	}

	data := buf[markerIdx:]
	if len(data) < responseHeaderSize {
		return nil, data, errIncomplete
	}

	length := int(binary.LittleEndian.Uint16(data[3:5]))
	total := responseHeaderSize + length
	if len(data) < total {
		return nil, data, errIncomplete
	}

	if data[1] != app || data[2] != cmd {
		return nil, data[1:], fmt.Errorf("%w: got app=0x%02X cmd=0x%02X, expected app=0x%02X cmd=0x%02X",
			errMismatch, data[1], data[2], app, cmd)
	}

	payload = make([]byte, length)
	copy(payload, data[responseHeaderSize:total])
	return payload, data[total:], nil
}
