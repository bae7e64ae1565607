package protocol

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestFramingRoundTrip_Property is the frame codec's central law: for every
// message M, decode(encode(M)) == M.
func TestFramingRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		connID := rapid.StringMatching(`[0-9a-f-]{8,36}`).Draw(t, "connID")
		data := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "data")

		var buf bytes.Buffer
		if err := WriteData(&buf, connID, data); err != nil {
			t.Fatalf("WriteData failed: %v", err)
		}

		payload, err := ReadTypedMessage(&buf, MsgTypeData)
		if err != nil {
			t.Fatalf("ReadTypedMessage failed: %v", err)
		}

		decoded, err := DecodeData(payload)
		if err != nil {
			t.Fatalf("DecodeData failed: %v", err)
		}

		if decoded.ConnectionID != connID {
			t.Fatalf("connection id mismatch: got %q want %q", decoded.ConnectionID, connID)
		}
		if !bytes.Equal(decoded.Data, data) {
			t.Fatalf("data mismatch: got %x want %x", decoded.Data, data)
		}
	})
}

func TestAuthRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		token := rapid.String().Draw(t, "token")
		clientID := rapid.StringMatching(`[0-9a-f-]{8,36}`).Draw(t, "clientID")

		var buf bytes.Buffer
		if err := WriteAuth(&buf, token, clientID); err != nil {
			t.Fatalf("WriteAuth failed: %v", err)
		}

		payload, err := ReadTypedMessage(&buf, MsgTypeAuth)
		if err != nil {
			t.Fatalf("ReadTypedMessage failed: %v", err)
		}

		decoded, err := DecodeAuth(payload)
		if err != nil {
			t.Fatalf("DecodeAuth failed: %v", err)
		}
		if decoded.Token != token || decoded.ClientID != clientID {
			t.Fatalf("round-trip mismatch: got %+v", decoded)
		}
	})
}

func TestProxyConfigRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ip := rapid.StringMatching(`[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}`).Draw(t, "ip")
		localPort := uint16(rapid.IntRange(1, 65535).Draw(t, "localPort"))
		remotePort := uint16(rapid.IntRange(1, 65535).Draw(t, "remotePort"))

		var buf bytes.Buffer
		if err := WriteProxyConfig(&buf, ip, localPort, remotePort); err != nil {
			t.Fatalf("WriteProxyConfig failed: %v", err)
		}

		payload, err := ReadTypedMessage(&buf, MsgTypeProxyConfig)
		if err != nil {
			t.Fatalf("ReadTypedMessage failed: %v", err)
		}
		decoded, err := DecodeProxyConfig(payload)
		if err != nil {
			t.Fatalf("DecodeProxyConfig failed: %v", err)
		}
		if decoded.LocalIP != ip || decoded.LocalPort != localPort || decoded.RemotePort != remotePort {
			t.Fatalf("round-trip mismatch: got %+v", decoded)
		}
	})
}

// TestMultipleFrames_PreserveOrder checks that frames written back-to-back
// on one connection are read back in the same order, independent of frame
// boundaries lining up with individual reads.
func TestMultipleFrames_PreserveOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		var buf bytes.Buffer
		want := make([]uint64, n)
		for i := 0; i < n; i++ {
			ts := rapid.Uint64().Draw(t, "ts")
			want[i] = ts
			if err := WriteHeartbeat(&buf, ts); err != nil {
				t.Fatalf("WriteHeartbeat failed: %v", err)
			}
		}

		for i := 0; i < n; i++ {
			payload, err := ReadTypedMessage(&buf, MsgTypeHeartbeat)
			if err != nil {
				t.Fatalf("ReadTypedMessage failed: %v", err)
			}
			decoded, err := DecodeHeartbeat(payload)
			if err != nil {
				t.Fatalf("DecodeHeartbeat failed: %v", err)
			}
			if decoded.Timestamp != want[i] {
				t.Fatalf("frame %d: got %d want %d", i, decoded.Timestamp, want[i])
			}
		}
	})
}
