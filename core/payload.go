package core

import (
	"encoding/hex"
	"fmt"
)

// Wire layout of a protected-call invocation payload. The first four bytes
// route to a security module, the next thirty-two bind the call to a module
// configuration. Anything past the header is opaque to the router.
const (
	ModuleMarkerSize = 4
	ModuleIDSize     = 32
	MinPayloadLength = 64
)

// ModuleMarker routes an invocation to a registered security module.
type ModuleMarker [ModuleMarkerSize]byte

func (m ModuleMarker) String() string {
	return "0x" + hex.EncodeToString(m[:])
}

// ModuleID binds an invocation to a module-specific configuration entry.
type ModuleID [ModuleIDSize]byte

func (m ModuleID) String() string {
	return "0x" + hex.EncodeToString(m[:])
}

// PayloadHeader is the parsed prefix of an invocation payload.
type PayloadHeader struct {
	Marker   ModuleMarker
	ModuleID ModuleID
}

// ParsePayloadHeader extracts the module routing header. Payloads shorter
// than MinPayloadLength are rejected before any module sees them.
func ParsePayloadHeader(payload []byte) (PayloadHeader, error) {
	if len(payload) < MinPayloadLength {
		return PayloadHeader{}, fmt.Errorf("%w: need %d bytes, got %d",
			ErrPayloadTooShort, MinPayloadLength, len(payload))
	}
	var header PayloadHeader
	copy(header.Marker[:], payload[:ModuleMarkerSize])
	copy(header.ModuleID[:], payload[ModuleMarkerSize:ModuleMarkerSize+ModuleIDSize])
	return header, nil
}
