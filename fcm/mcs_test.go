package fcm

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/slush-dev/agentpush/internal/gcmpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = gcmCredentials{AndroidID: 100, SecurityToken: 200}

// writePacket writes a MCS wire-format packet to w: tag byte + varint size + body.
// If includeVersion is true, it prepends the MCS version byte (41).
func writePacket(t *testing.T, w io.Writer, tag mcsTag, msg gcmpb.Message, includeVersion bool) {
	t.Helper()
	if includeVersion {
		_, err := w.Write([]byte{mcsVersion})
		require.NoError(t, err)
	}

	data := msg.Marshal()

	hdr := []byte{byte(tag)}
	hdr = binary.AppendUvarint(hdr, uint64(len(data)))
	_, err := w.Write(hdr)
	require.NoError(t, err)

	// net.Pipe blocks on 0-length writes.
	if len(data) > 0 {
		_, err = w.Write(data)
		require.NoError(t, err)
	}
}

func readTag(t *testing.T, r io.Reader) mcsTag {
	t.Helper()
	var buf [1]byte
	_, err := io.ReadFull(r, buf[:])
	require.NoError(t, err)
	return mcsTag(buf[0])
}

func readVarintTest(t *testing.T, r io.Reader) uint64 {
	t.Helper()
	var result uint64
	var shift uint
	for {
		var buf [1]byte
		_, err := io.ReadFull(r, buf[:])
		require.NoError(t, err)
		b := buf[0]
		result |= uint64(b&0x7F) << shift
		if b < 0x80 {
			break
		}
		shift += 7
	}
	return result
}

// discardLoginPacket reads and discards the version byte + login request packet
// from the MCS client side of the pipe.
func discardLoginPacket(t *testing.T, r io.Reader) {
	t.Helper()
	var vBuf [1]byte
	_, err := io.ReadFull(r, vBuf[:])
	require.NoError(t, err)

	_, err = io.ReadFull(r, vBuf[:])
	require.NoError(t, err)

	size := readVarintTest(t, r)
	body := make([]byte, size)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
}

// startSession runs connect on the client end and completes the login
// handshake from the server end.
func startSession(t *testing.T, mcs *mcsClient, server net.Conn) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- mcs.connect(ctx)
	}()

	discardLoginPacket(t, server)
	writePacket(t, server, tagLoginResponse, &gcmpb.LoginResponse{ID: "s"}, true)
	return cancel, errCh
}

func TestMCS_LoginPacket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, gcmCredentials{AndroidID: 12345, SecurityToken: 67890}, []string{"pid-1"}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- mcs.connect(ctx)
	}()

	var versionBuf [1]byte
	_, err := io.ReadFull(server, versionBuf[:])
	require.NoError(t, err)
	assert.Equal(t, byte(mcsVersion), versionBuf[0])

	assert.Equal(t, tagLoginRequest, readTag(t, server))

	size := readVarintTest(t, server)
	data := make([]byte, size)
	_, err = io.ReadFull(server, data)
	require.NoError(t, err)

	var loginReq gcmpb.LoginRequest
	require.NoError(t, loginReq.Unmarshal(data))

	assert.Equal(t, "android-3039", loginReq.ID) // 12345 = 0x3039
	assert.Equal(t, "mcs.android.com", loginReq.Domain)
	assert.Equal(t, "12345", loginReq.User)
	assert.Equal(t, "12345", loginReq.Resource)
	assert.Equal(t, "67890", loginReq.AuthToken)
	assert.Equal(t, "android-3039", loginReq.DeviceID)
	assert.True(t, loginReq.UseRmq2)
	assert.Equal(t, int64(1), loginReq.LastRmqID)
	assert.Equal(t, gcmpb.AuthServiceAndroidID, loginReq.AuthService)
	assert.Equal(t, []string{"pid-1"}, loginReq.ReceivedPersistentID)
	require.Len(t, loginReq.Settings, 1)
	assert.Equal(t, "new_vc", loginReq.Settings[0].Name)

	cancel()
	assert.NoError(t, <-errCh)
}

func TestMCS_LoginResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	connected := make(chan struct{})
	mcs := newMCSClient(client, testCreds, []string{"pid-1"}, slog.Default())
	mcs.onConnected = func() {
		close(connected)
	}

	cancel, _ := startSession(t, mcs, server)
	defer cancel()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("onConnected not called within timeout")
	}
}

func TestMCS_LoginRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- mcs.connect(ctx)
	}()

	discardLoginPacket(t, server)
	writePacket(t, server, tagLoginResponse, &gcmpb.LoginResponse{
		ID:    "s",
		Error: &gcmpb.ErrorInfo{Code: 401, Message: "bad token"},
	}, true)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "login rejected")
		assert.Contains(t, err.Error(), "bad token")
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return within timeout")
	}
}

func TestMCS_HeartbeatPingResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, nil, slog.Default())
	cancel, _ := startSession(t, mcs, server)
	defer cancel()

	writePacket(t, server, tagHeartbeatPing, &gcmpb.HeartbeatPing{StreamID: 1}, false)

	assert.Equal(t, tagHeartbeatAck, readTag(t, server))
	// The ack carries no fields, so the body is empty.
	assert.Equal(t, uint64(0), readVarintTest(t, server))
}

func TestMCS_DataMessageStanza(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var received *gcmpb.DataMessageStanza
	done := make(chan struct{})

	mcs := newMCSClient(client, testCreds, nil, slog.Default())
	mcs.onDataMessage = func(msg *gcmpb.DataMessageStanza) {
		received = msg
		close(done)
	}

	cancel, _ := startSession(t, mcs, server)
	defer cancel()

	writePacket(t, server, tagDataMessageStanza, &gcmpb.DataMessageStanza{
		From:         "1234567890",
		Category:     "com.bandwidth.sample",
		PersistentID: "persistent-123",
		AppData: []gcmpb.AppData{
			{Key: "extra_data", Value: `{"accountId":"a"}`},
		},
	}, false)

	select {
	case <-done:
		assert.Equal(t, "persistent-123", received.PersistentID)
		assert.Equal(t, "1234567890", received.From)
		assert.Empty(t, received.RawData)
		require.Len(t, received.AppData, 1)
		assert.Equal(t, "extra_data", received.AppData[0].Key)
	case <-time.After(2 * time.Second):
		t.Fatal("onDataMessage not called within timeout")
	}
}

func TestMCS_RawDataRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, nil, slog.Default())
	mcs.onDataMessage = func(*gcmpb.DataMessageStanza) {
		t.Error("encrypted message must not be dispatched")
	}
	cancel, errCh := startSession(t, mcs, server)
	defer cancel()

	writePacket(t, server, tagDataMessageStanza, &gcmpb.DataMessageStanza{
		From:     "sender",
		Category: "test",
		RawData:  []byte{0x01, 0x02},
	}, false)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "raw_data")
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return within timeout")
	}
}

func TestMCS_Close(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, nil, slog.Default())
	cancel, errCh := startSession(t, mcs, server)
	defer cancel()

	writePacket(t, server, tagClose, &gcmpb.Close{}, false)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "close")
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return within timeout")
	}
}

func TestMCS_StreamError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, nil, slog.Default())
	cancel, errCh := startSession(t, mcs, server)
	defer cancel()

	writePacket(t, server, tagStreamErrorStanza, &gcmpb.StreamErrorStanza{Type: "conflict", Text: "replaced"}, false)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "type=conflict")
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return within timeout")
	}
}

func TestMCS_ContextCancel(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var reason string
	disconnected := make(chan struct{})
	mcs := newMCSClient(client, testCreds, nil, slog.Default())
	mcs.onDisconnected = func(r string) {
		reason = r
		close(disconnected)
	}

	cancel, errCh := startSession(t, mcs, server)

	// Give read loop time to start
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
		<-disconnected
		assert.Equal(t, "context cancelled", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return after cancel")
	}
}

func TestMCS_HeartbeatTimerSendsPing(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, nil, slog.Default())
	mcs.heartbeatInterval = 100 * time.Millisecond

	cancel, _ := startSession(t, mcs, server)
	defer cancel()

	done := make(chan mcsTag, 1)
	go func() {
		var buf [1]byte
		if _, err := io.ReadFull(server, buf[:]); err == nil {
			done <- mcsTag(buf[0])
		}
	}()

	select {
	case tag := <-done:
		assert.Equal(t, tagHeartbeatPing, tag)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat ping not sent within timeout")
	}
}

func TestMCS_VarintOverflow(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, nil, slog.Default())
	cancel, errCh := startSession(t, mcs, server)
	defer cancel()

	// A tag byte followed by 10 continuation bytes, as one write because
	// net.Pipe Write blocks until all bytes are consumed.
	var overflow [11]byte
	overflow[0] = byte(tagDataMessageStanza)
	for i := 1; i < 11; i++ {
		overflow[i] = 0x80
	}
	_, err := server.Write(overflow[:])
	require.NoError(t, err)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "varint overflow")
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return within timeout")
	}
}

func TestMCS_IqStanzaIgnored(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var mu sync.Mutex
	var keys []string
	dataDone := make(chan struct{})

	mcs := newMCSClient(client, testCreds, nil, slog.Default())
	mcs.onDataMessage = func(msg *gcmpb.DataMessageStanza) {
		mu.Lock()
		for _, kv := range msg.AppData {
			keys = append(keys, kv.Key)
		}
		mu.Unlock()
		close(dataDone)
	}

	cancel, _ := startSession(t, mcs, server)
	defer cancel()

	writePacket(t, server, tagIqStanza, &gcmpb.IqStanza{Type: gcmpb.IqResult, ID: "1"}, false)

	// A data message after the IQ confirms the read loop continued.
	writePacket(t, server, tagDataMessageStanza, &gcmpb.DataMessageStanza{
		From:         "sender",
		Category:     "test",
		PersistentID: "p1",
		AppData:      []gcmpb.AppData{{Key: "k", Value: "v"}},
	}, false)

	select {
	case <-dataDone:
		mu.Lock()
		assert.Equal(t, []string{"k"}, keys)
		mu.Unlock()
	case <-time.After(2 * time.Second):
		t.Fatal("data message not received after IqStanza")
	}
}
