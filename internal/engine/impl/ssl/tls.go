package ssl

import "golang.org/x/crypto/cryptobyte"

const (
	recordHandshake       = 22
	recordApplicationData = 23

	handshakeClientHello = 1
	extensionServerName  = 0
	hostNameType         = 0
)

// recordType returns the content type of the first TLS record of payload.
func recordType(payload []byte) (byte, bool) {
	if len(payload) < 5 || payload[1] != 3 {
		return 0, false
	}
	return payload[0], true
}

// isClientHello reports whether payload starts with a ClientHello record.
func isClientHello(payload []byte) bool {
	t, ok := recordType(payload)
	return ok && t == recordHandshake && len(payload) > 5 && payload[5] == handshakeClientHello
}

// serverName extracts the SNI host name of a ClientHello, or "" when the
// record is truncated or carries none.
func serverName(payload []byte) string {
	if !isClientHello(payload) {
		return ""
	}
	s := cryptobyte.String(payload[5:])
	var (
		msgType     uint8
		hello       cryptobyte.String
		sessionID   cryptobyte.String
		suites      cryptobyte.String
		compression cryptobyte.String
		extensions  cryptobyte.String
	)
	if !s.ReadUint8(&msgType) || !s.ReadUint24LengthPrefixed(&hello) ||
		!hello.Skip(2+32) || // version and random
		!hello.ReadUint8LengthPrefixed(&sessionID) ||
		!hello.ReadUint16LengthPrefixed(&suites) ||
		!hello.ReadUint8LengthPrefixed(&compression) ||
		!hello.ReadUint16LengthPrefixed(&extensions) {
		return ""
	}

	for !extensions.Empty() {
		var extType uint16
		var ext cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&ext) {
			return ""
		}
		if extType != extensionServerName {
			continue
		}
		var names cryptobyte.String
		if !ext.ReadUint16LengthPrefixed(&names) {
			return ""
		}
		for !names.Empty() {
			var nameType uint8
			var name cryptobyte.String
			if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
				return ""
			}
			if nameType == hostNameType {
				return string(name)
			}
		}
	}
	return ""
}
