package protocol

import (
	"golang.org/x/crypto/cryptobyte"
)

const (
	recordTypeHandshake      = 0x16
	handshakeTypeClientHello = 0x01
	extensionServerName      = 0x0000
	nameTypeHostName         = 0x00
)

// ServerName returns the host name of the server_name extension when payload starts with
// a TLS ClientHello record. Only the first record is inspected.
func ServerName(payload []byte) (string, bool) {
	s := cryptobyte.String(payload)

	var contentType uint8
	var version uint16
	var record, handshake cryptobyte.String
	if !s.ReadUint8(&contentType) || contentType != recordTypeHandshake ||
		!s.ReadUint16(&version) ||
		!s.ReadUint16LengthPrefixed(&record) {
		return "", false
	}

	var msgType uint8
	if !record.ReadUint8(&msgType) || msgType != handshakeTypeClientHello ||
		!record.ReadUint24LengthPrefixed(&handshake) {
		return "", false
	}

	var sessionID, cipherSuites, compression, extensions cryptobyte.String
	if !handshake.Skip(2+32) || // client version, random
		!handshake.ReadUint8LengthPrefixed(&sessionID) ||
		!handshake.ReadUint16LengthPrefixed(&cipherSuites) ||
		!handshake.ReadUint8LengthPrefixed(&compression) {
		return "", false
	}
	if handshake.Empty() {
		return "", false // no extensions
	}
	if !handshake.ReadUint16LengthPrefixed(&extensions) {
		return "", false
	}

	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return "", false
		}
		if extType != extensionServerName {
			continue
		}
		var names cryptobyte.String
		if !extData.ReadUint16LengthPrefixed(&names) {
			return "", false
		}
		for !names.Empty() {
			var nameType uint8
			var name cryptobyte.String
			if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
				return "", false
			}
			if nameType == nameTypeHostName && len(name) > 0 {
				return string(name), true
			}
		}
	}
	return "", false
}
