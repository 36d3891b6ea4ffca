package core

import (
	"bytes"
	"errors"
	"testing"
)

func buildInvocation(marker ModuleMarker, moduleID ModuleID, tail []byte) []byte {
	payload := make([]byte, 0, MinPayloadLength+len(tail))
	payload = append(payload, marker[:]...)
	payload = append(payload, moduleID[:]...)
	payload = append(payload, make([]byte, MinPayloadLength-ModuleMarkerSize-ModuleIDSize)...)
	return append(payload, tail...)
}

func TestParsePayloadHeader(t *testing.T) {
	marker := ModuleMarker{0x01, 0x02, 0x03, 0x04}
	var moduleID ModuleID
	copy(moduleID[:], bytes.Repeat([]byte{0xAB}, ModuleIDSize))

	header, err := ParsePayloadHeader(buildInvocation(marker, moduleID, []byte("opaque args")))
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if header.Marker != marker {
		t.Fatalf("expected marker %s, got %s", marker, header.Marker)
	}
	if header.ModuleID != moduleID {
		t.Fatalf("expected module id %s, got %s", moduleID, header.ModuleID)
	}
}

func TestParsePayloadHeader_ExactMinimumLength(t *testing.T) {
	payload := make([]byte, MinPayloadLength)
	if _, err := ParsePayloadHeader(payload); err != nil {
		t.Fatalf("expected 64-byte payload to parse: %v", err)
	}
}

func TestParsePayloadHeader_RejectsShortPayload(t *testing.T) {
	payload := make([]byte, MinPayloadLength-1)
	_, err := ParsePayloadHeader(payload)
	if !errors.Is(err, ErrPayloadTooShort) {
		t.Fatalf("expected short payload rejection, got %v", err)
	}

	if _, err := ParsePayloadHeader(nil); !errors.Is(err, ErrPayloadTooShort) {
		t.Fatalf("expected nil payload rejection, got %v", err)
	}
}
