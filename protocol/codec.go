package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire format: [1 byte type][4 bytes big-endian length][payload].
//
// Payload encoding is a single deterministic binary layout shared by every
// implementation of this protocol: strings and byte slices are
// length-prefixed with a big-endian uint32, fixed-width integers are
// big-endian, bools are one byte, and fields documented as optional in the
// message table are a presence byte followed by the value when present.

// MaxFrameSize caps a single frame's payload length. Frames larger than
// this fail the connection rather than risk unbounded allocation.
const MaxFrameSize = 16 * 1024 * 1024 // 16 MiB

// WriteMessage writes one frame: a type byte, its payload length, and the
// encoded payload, using a pooled buffer so a single Write reaches the
// underlying connection.
func WriteMessage(w io.Writer, msgType byte, payload interface{}) error {
	data, err := marshalPayload(msgType, payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("encoded payload too large: %d bytes", len(data))
	}

	buf := GetBufferWithSize(len(data) + 5)
	defer PutBuffer(buf)

	var header [5]byte
	header[0] = msgType
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))

	buf.Write(header[:])
	buf.Write(data)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one frame and returns its type and raw payload. A
// length field greater than MaxFrameSize fails the connection per the
// frame codec contract; a zero length is legal and yields an empty slice.
func ReadMessage(r io.Reader) (msgType byte, payload []byte, err error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	msgType = header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFrameSize {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", length)
	}

	payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return msgType, payload, nil
}

// ReadTypedMessage reads one frame and fails unless it is of expectedType.
func ReadTypedMessage(r io.Reader, expectedType byte) (payload []byte, err error) {
	msgType, payload, err := ReadMessage(r)
	if err != nil {
		return nil, err
	}
	if msgType != expectedType {
		return nil, fmt.Errorf("unexpected message type: got 0x%02x, expected 0x%02x", msgType, expectedType)
	}
	return payload, nil
}

// marshalPayload encodes a typed message struct into its wire payload.
func marshalPayload(msgType byte, payload interface{}) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	w := &binWriter{buf: buf}

	switch msgType {
	case MsgTypeAuth:
		m := payload.(AuthMsg)
		w.writeString(m.Token)
		w.writeString(m.ClientID)
	case MsgTypeAuthResponse:
		m := payload.(AuthResponseMsg)
		w.writeBool(m.Success)
		w.writeOptionalBytes(m.SessionKey)
		w.writeOptionalString(m.Error)
	case MsgTypeProxyConfig:
		m := payload.(ProxyConfigMsg)
		w.writeString(m.LocalIP)
		w.writeUint16(m.LocalPort)
		w.writeUint16(m.RemotePort)
	case MsgTypeProxyConfigResponse:
		m := payload.(ProxyConfigResponseMsg)
		w.writeBool(m.Success)
		w.writeOptionalString(m.ProxyID)
		w.writeOptionalString(m.Error)
	case MsgTypeNewConnection:
		m := payload.(NewConnectionMsg)
		w.writeString(m.ProxyID)
		w.writeString(m.ConnectionID)
	case MsgTypeConnectionResponse:
		m := payload.(ConnectionResponseMsg)
		w.writeString(m.ConnectionID)
		w.writeBool(m.Success)
		w.writeOptionalString(m.Error)
	case MsgTypeData:
		m := payload.(DataMsg)
		w.writeString(m.ConnectionID)
		w.writeBytes(m.Data)
	case MsgTypeCloseConnection:
		m := payload.(CloseConnectionMsg)
		w.writeString(m.ConnectionID)
	case MsgTypeHeartbeat:
		m := payload.(HeartbeatMsg)
		w.writeUint64(m.Timestamp)
	case MsgTypeHeartbeatResponse:
		m := payload.(HeartbeatResponseMsg)
		w.writeUint64(m.Timestamp)
	case MsgTypeError:
		m := payload.(ErrorMsg)
		w.writeString(m.Message)
	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", msgType)
	}

	if w.err != nil {
		return nil, w.err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Decode<Type> decodes a payload previously produced by marshalPayload for
// the matching message type. Decode errors are fatal to the session per
// the message serializer contract: there is no partial acceptance.

func DecodeAuth(payload []byte) (AuthMsg, error) {
	r := &binReader{data: payload}
	m := AuthMsg{
		Token:    r.readString(),
		ClientID: r.readString(),
	}
	return m, r.err
}

func DecodeAuthResponse(payload []byte) (AuthResponseMsg, error) {
	r := &binReader{data: payload}
	m := AuthResponseMsg{
		Success:    r.readBool(),
		SessionKey: r.readOptionalBytes(),
		Error:      r.readOptionalString(),
	}
	return m, r.err
}

func DecodeProxyConfig(payload []byte) (ProxyConfigMsg, error) {
	r := &binReader{data: payload}
	m := ProxyConfigMsg{
		LocalIP:    r.readString(),
		LocalPort:  r.readUint16(),
		RemotePort: r.readUint16(),
	}
	return m, r.err
}

func DecodeProxyConfigResponse(payload []byte) (ProxyConfigResponseMsg, error) {
	r := &binReader{data: payload}
	m := ProxyConfigResponseMsg{
		Success: r.readBool(),
		ProxyID: r.readOptionalString(),
		Error:   r.readOptionalString(),
	}
	return m, r.err
}

func DecodeNewConnection(payload []byte) (NewConnectionMsg, error) {
	r := &binReader{data: payload}
	m := NewConnectionMsg{
		ProxyID:      r.readString(),
		ConnectionID: r.readString(),
	}
	return m, r.err
}

func DecodeConnectionResponse(payload []byte) (ConnectionResponseMsg, error) {
	r := &binReader{data: payload}
	m := ConnectionResponseMsg{
		ConnectionID: r.readString(),
		Success:      r.readBool(),
		Error:        r.readOptionalString(),
	}
	return m, r.err
}

func DecodeData(payload []byte) (DataMsg, error) {
	r := &binReader{data: payload}
	m := DataMsg{
		ConnectionID: r.readString(),
		Data:         r.readBytes(),
	}
	return m, r.err
}

func DecodeCloseConnection(payload []byte) (CloseConnectionMsg, error) {
	r := &binReader{data: payload}
	m := CloseConnectionMsg{
		ConnectionID: r.readString(),
	}
	return m, r.err
}

func DecodeHeartbeat(payload []byte) (HeartbeatMsg, error) {
	r := &binReader{data: payload}
	m := HeartbeatMsg{Timestamp: r.readUint64()}
	return m, r.err
}

func DecodeHeartbeatResponse(payload []byte) (HeartbeatResponseMsg, error) {
	r := &binReader{data: payload}
	m := HeartbeatResponseMsg{Timestamp: r.readUint64()}
	return m, r.err
}

func DecodeError(payload []byte) (ErrorMsg, error) {
	r := &binReader{data: payload}
	m := ErrorMsg{Message: r.readString()}
	return m, r.err
}

// Write<Type> are thin convenience wrappers around WriteMessage, mirroring
// the per-message write helpers callers would otherwise hand-roll.

func WriteAuth(w io.Writer, token, clientID string) error {
	return WriteMessage(w, MsgTypeAuth, AuthMsg{Token: token, ClientID: clientID})
}

func WriteAuthResponse(w io.Writer, success bool, sessionKey []byte, errMsg string) error {
	return WriteMessage(w, MsgTypeAuthResponse, AuthResponseMsg{Success: success, SessionKey: sessionKey, Error: errMsg})
}

func WriteProxyConfig(w io.Writer, localIP string, localPort, remotePort uint16) error {
	return WriteMessage(w, MsgTypeProxyConfig, ProxyConfigMsg{LocalIP: localIP, LocalPort: localPort, RemotePort: remotePort})
}

func WriteProxyConfigResponse(w io.Writer, success bool, proxyID, errMsg string) error {
	return WriteMessage(w, MsgTypeProxyConfigResponse, ProxyConfigResponseMsg{Success: success, ProxyID: proxyID, Error: errMsg})
}

func WriteNewConnection(w io.Writer, proxyID, connectionID string) error {
	return WriteMessage(w, MsgTypeNewConnection, NewConnectionMsg{ProxyID: proxyID, ConnectionID: connectionID})
}

func WriteConnectionResponse(w io.Writer, connectionID string, success bool, errMsg string) error {
	return WriteMessage(w, MsgTypeConnectionResponse, ConnectionResponseMsg{ConnectionID: connectionID, Success: success, Error: errMsg})
}

func WriteData(w io.Writer, connectionID string, data []byte) error {
	return WriteMessage(w, MsgTypeData, DataMsg{ConnectionID: connectionID, Data: data})
}

func WriteCloseConnection(w io.Writer, connectionID string) error {
	return WriteMessage(w, MsgTypeCloseConnection, CloseConnectionMsg{ConnectionID: connectionID})
}

func WriteHeartbeat(w io.Writer, timestamp uint64) error {
	return WriteMessage(w, MsgTypeHeartbeat, HeartbeatMsg{Timestamp: timestamp})
}

func WriteHeartbeatResponse(w io.Writer, timestamp uint64) error {
	return WriteMessage(w, MsgTypeHeartbeatResponse, HeartbeatResponseMsg{Timestamp: timestamp})
}

func WriteError(w io.Writer, message string) error {
	return WriteMessage(w, MsgTypeError, ErrorMsg{Message: message})
}
