package fcm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/slush-dev/agentpush/internal/gcmpb"
)

const mcsVersion = 41

// mcsTag identifies MCS protocol message types.
type mcsTag uint8

const (
	tagHeartbeatPing     mcsTag = 0
	tagHeartbeatAck      mcsTag = 1
	tagLoginRequest      mcsTag = 2
	tagLoginResponse     mcsTag = 3
	tagClose             mcsTag = 4
	tagIqStanza          mcsTag = 7
	tagDataMessageStanza mcsTag = 8
	tagStreamErrorStanza mcsTag = 10
)

// mcsClient speaks the MCS framing over a single connection. Data messages
// arrive as plaintext AppData for Android-native registrations.
type mcsClient struct {
	conn          io.ReadWriteCloser
	creds         gcmCredentials
	persistentIDs []string
	logger        *slog.Logger

	heartbeatInterval time.Duration

	onDataMessage  func(msg *gcmpb.DataMessageStanza)
	onConnected    func()
	onDisconnected func(reason string)

	writeMu sync.Mutex
}

func newMCSClient(conn io.ReadWriteCloser, creds gcmCredentials, persistentIDs []string, logger *slog.Logger) *mcsClient {
	return &mcsClient{
		conn:              conn,
		creds:             creds,
		persistentIDs:     persistentIDs,
		logger:            logger,
		heartbeatInterval: 5 * time.Minute,
	}
}

// connect logs in and runs the read loop until ctx is cancelled, the server
// closes the stream, or an error occurs. Cancellation returns nil.
func (m *mcsClient) connect(ctx context.Context) error {
	connClosed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.conn.Close()
		case <-connClosed:
		}
	}()
	defer close(connClosed)

	if err := m.sendLogin(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("mcs: send login: %w", err)
	}

	var vBuf [1]byte
	if _, err := io.ReadFull(m.conn, vBuf[:]); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("mcs: read version: %w", err)
	}
	if vBuf[0] < mcsVersion {
		m.logger.Warn("MCS server speaks an older protocol version", "version", vBuf[0])
	}

	heartbeatCtx, heartbeatCancel := context.WithCancel(ctx)
	defer heartbeatCancel()
	go m.heartbeatLoop(heartbeatCtx)

	err := m.readLoop()
	reason := "read loop ended"
	switch {
	case ctx.Err() != nil:
		reason, err = "context cancelled", nil
	case err != nil:
		reason = err.Error()
	}
	if m.onDisconnected != nil {
		m.onDisconnected(reason)
	}
	return err
}

func (m *mcsClient) sendLogin() error {
	decID := strconv.FormatUint(m.creds.AndroidID, 10)
	loginID := fmt.Sprintf("android-%x", m.creds.AndroidID)

	req := &gcmpb.LoginRequest{
		ID:                   loginID,
		Domain:               "mcs.android.com",
		User:                 decID,
		Resource:             decID,
		AuthToken:            strconv.FormatUint(m.creds.SecurityToken, 10),
		DeviceID:             loginID,
		LastRmqID:            1,
		ReceivedPersistentID: m.persistentIDs,
		UseRmq2:              true,
		AccountID:            1000000,
		AuthService:          gcmpb.AuthServiceAndroidID,
		NetworkType:          1,
		Settings:             []gcmpb.Setting{{Name: "new_vc", Value: "1"}},
	}
	return m.sendPacket(tagLoginRequest, req, true)
}

// sendPacket writes [version] tag varint(len) body.
func (m *mcsClient) sendPacket(tag mcsTag, msg gcmpb.Message, includeVersion bool) error {
	data := msg.Marshal()

	var hdr []byte
	if includeVersion {
		hdr = append(hdr, mcsVersion)
	}
	hdr = append(hdr, byte(tag))
	hdr = binary.AppendUvarint(hdr, uint64(len(data)))

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if _, err := m.conn.Write(hdr); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := m.conn.Write(data)
	return err
}

func (m *mcsClient) readLoop() error {
	for {
		tag, err := m.readTagByte()
		if err != nil {
			return fmt.Errorf("mcs: read tag: %w", err)
		}

		size, err := m.readVarint()
		if err != nil {
			return fmt.Errorf("mcs: read size: %w", err)
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(m.conn, data); err != nil {
			return fmt.Errorf("mcs: read body: %w", err)
		}

		if err := m.handlePacket(tag, data); err != nil {
			return err
		}
	}
}

func (m *mcsClient) handlePacket(tag mcsTag, data []byte) error {
	switch tag {
	case tagLoginResponse:
		var resp gcmpb.LoginResponse
		if err := resp.Unmarshal(data); err != nil {
			return fmt.Errorf("mcs: unmarshal LoginResponse: %w", err)
		}
		if resp.Error != nil {
			return fmt.Errorf("mcs: login rejected: code=%d %s", resp.Error.Code, resp.Error.Message)
		}
		m.logger.Debug("MCS login response", "id", resp.ID)
		// The server has acknowledged everything we reported.
		m.persistentIDs = nil
		if m.onConnected != nil {
			m.onConnected()
		}

	case tagHeartbeatPing:
		var ping gcmpb.HeartbeatPing
		if err := ping.Unmarshal(data); err != nil {
			m.logger.Warn("MCS: failed to unmarshal HeartbeatPing", "error", err)
			return nil
		}
		m.logger.Debug("MCS heartbeat ping received")
		if err := m.sendPacket(tagHeartbeatAck, &gcmpb.HeartbeatAck{}, false); err != nil {
			return fmt.Errorf("mcs: send heartbeat ack: %w", err)
		}

	case tagHeartbeatAck:
		m.logger.Debug("MCS heartbeat ack received")

	case tagDataMessageStanza:
		var msg gcmpb.DataMessageStanza
		if err := msg.Unmarshal(data); err != nil {
			m.logger.Warn("MCS: failed to unmarshal DataMessageStanza", "error", err)
			return nil
		}
		m.logger.Debug("MCS data message", "from", msg.From, "category", msg.Category, "persistentId", msg.PersistentID)

		if len(msg.RawData) > 0 {
			return fmt.Errorf("mcs: encrypted raw_data is not supported for Android-native registrations; re-run 'agentpush register --refresh'")
		}
		if m.onDataMessage != nil {
			m.onDataMessage(&msg)
		}

	case tagClose:
		return fmt.Errorf("mcs: server sent close")

	case tagIqStanza:
		var iq gcmpb.IqStanza
		if err := iq.Unmarshal(data); err != nil {
			m.logger.Warn("MCS: failed to unmarshal IqStanza", "error", err)
		} else {
			m.logger.Debug("MCS IqStanza received", "type", iq.Type, "id", iq.ID)
		}

	case tagStreamErrorStanza:
		var se gcmpb.StreamErrorStanza
		if err := se.Unmarshal(data); err != nil {
			return fmt.Errorf("mcs: stream error (unmarshal failed: %w)", err)
		}
		return fmt.Errorf("mcs: stream error: type=%s text=%s", se.Type, se.Text)

	default:
		m.logger.Debug("MCS unknown tag", "tag", tag)
	}

	return nil
}

func (m *mcsClient) readTagByte() (mcsTag, error) {
	var buf [1]byte
	if _, err := io.ReadFull(m.conn, buf[:]); err != nil {
		return 0, err
	}
	return mcsTag(buf[0]), nil
}

func (m *mcsClient) readVarint() (uint64, error) {
	var result uint64
	var shift uint
	for {
		var buf [1]byte
		if _, err := io.ReadFull(m.conn, buf[:]); err != nil {
			return 0, err
		}
		b := buf[0]
		result |= uint64(b&0x7F) << shift
		if b < 0x80 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("varint overflow: more than 10 bytes")
		}
	}
	return result, nil
}

func (m *mcsClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.sendPacket(tagHeartbeatPing, &gcmpb.HeartbeatPing{}, false); err != nil {
				m.logger.Warn("MCS: failed to send heartbeat ping", "error", err)
				return
			}
			m.logger.Debug("MCS heartbeat ping sent")
		}
	}
}
