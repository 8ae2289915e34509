package gcmpb

import "google.golang.org/protobuf/encoding/protowire"

// AuthService selects how an MCS LoginRequest authenticates.
type AuthService int32

const AuthServiceAndroidID AuthService = 2

// IqType is the type of an IqStanza.
type IqType int32

const (
	IqGet    IqType = 0
	IqSet    IqType = 1
	IqResult IqType = 2
	IqError  IqType = 3
)

func (t IqType) String() string {
	switch t {
	case IqGet:
		return "GET"
	case IqSet:
		return "SET"
	case IqResult:
		return "RESULT"
	case IqError:
		return "IQ_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Setting is a name/value pair sent with a LoginRequest.
type Setting struct {
	Name  string
	Value string
}

func (m *Setting) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendString(b, 2, m.Value)
	return b
}

func (m *Setting) Unmarshal(b []byte) error {
	*m = Setting{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, v, &m.Name)
		case 2:
			return readString(typ, v, &m.Value)
		}
		return -1, nil
	})
}

// LoginRequest opens an MCS session.
type LoginRequest struct {
	ID                   string
	Domain               string
	User                 string
	Resource             string
	AuthToken            string
	DeviceID             string
	LastRmqID            int64
	Settings             []Setting
	ReceivedPersistentID []string
	AdaptiveHeartbeat    bool
	UseRmq2              bool
	AccountID            int64
	AuthService          AuthService
	NetworkType          int32
}

func (m *LoginRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ID)
	b = appendString(b, 2, m.Domain)
	b = appendString(b, 3, m.User)
	b = appendString(b, 4, m.Resource)
	b = appendString(b, 5, m.AuthToken)
	b = appendString(b, 6, m.DeviceID)
	b = appendVarint(b, 7, uint64(m.LastRmqID))
	for i := range m.Settings {
		b = appendMessage(b, 8, &m.Settings[i])
	}
	for _, id := range m.ReceivedPersistentID {
		b = protowire.AppendTag(b, 10, protowire.BytesType)
		b = protowire.AppendString(b, id)
	}
	b = appendBool(b, 12, m.AdaptiveHeartbeat)
	b = appendBool(b, 14, m.UseRmq2)
	b = appendVarint(b, 15, uint64(m.AccountID))
	b = appendVarint(b, 16, uint64(m.AuthService))
	b = appendVarint(b, 17, uint64(m.NetworkType))
	return b
}

func (m *LoginRequest) Unmarshal(b []byte) error {
	*m = LoginRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, v, &m.ID)
		case 2:
			return readString(typ, v, &m.Domain)
		case 3:
			return readString(typ, v, &m.User)
		case 4:
			return readString(typ, v, &m.Resource)
		case 5:
			return readString(typ, v, &m.AuthToken)
		case 6:
			return readString(typ, v, &m.DeviceID)
		case 7:
			return readInt64(typ, v, &m.LastRmqID)
		case 8:
			var s Setting
			n, err := readMessage(typ, v, &s)
			if err == nil {
				m.Settings = append(m.Settings, s)
			}
			return n, err
		case 10:
			var id string
			n, err := readString(typ, v, &id)
			if err == nil {
				m.ReceivedPersistentID = append(m.ReceivedPersistentID, id)
			}
			return n, err
		case 12:
			return readBool(typ, v, &m.AdaptiveHeartbeat)
		case 14:
			return readBool(typ, v, &m.UseRmq2)
		case 15:
			return readInt64(typ, v, &m.AccountID)
		case 16:
			var s int32
			n, err := readInt32(typ, v, &s)
			m.AuthService = AuthService(s)
			return n, err
		case 17:
			return readInt32(typ, v, &m.NetworkType)
		}
		return -1, nil
	})
}

// ErrorInfo describes a login failure.
type ErrorInfo struct {
	Code    int32
	Message string
	Type    string
}

func (m *ErrorInfo) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Code))
	b = appendString(b, 2, m.Message)
	b = appendString(b, 3, m.Type)
	return b
}

func (m *ErrorInfo) Unmarshal(b []byte) error {
	*m = ErrorInfo{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readInt32(typ, v, &m.Code)
		case 2:
			return readString(typ, v, &m.Message)
		case 3:
			return readString(typ, v, &m.Type)
		}
		return -1, nil
	})
}

// LoginResponse acknowledges a LoginRequest.
type LoginResponse struct {
	ID              string
	JID             string
	Error           *ErrorInfo
	ServerTimestamp int64
}

func (m *LoginResponse) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ID)
	b = appendString(b, 2, m.JID)
	if m.Error != nil {
		b = appendMessage(b, 3, m.Error)
	}
	b = appendVarint(b, 8, uint64(m.ServerTimestamp))
	return b
}

func (m *LoginResponse) Unmarshal(b []byte) error {
	*m = LoginResponse{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, v, &m.ID)
		case 2:
			return readString(typ, v, &m.JID)
		case 3:
			m.Error = &ErrorInfo{}
			return readMessage(typ, v, m.Error)
		case 8:
			return readInt64(typ, v, &m.ServerTimestamp)
		}
		return -1, nil
	})
}

// HeartbeatPing keeps the MCS connection alive. HeartbeatAck has the same
// shape.
type HeartbeatPing struct {
	StreamID             int32
	LastStreamIDReceived int32
	Status               int64
}

func (m *HeartbeatPing) Marshal() []byte { return marshalHeartbeat(m.StreamID, m.LastStreamIDReceived, m.Status) }

func (m *HeartbeatPing) Unmarshal(b []byte) error {
	*m = HeartbeatPing{}
	return unmarshalHeartbeat(b, &m.StreamID, &m.LastStreamIDReceived, &m.Status)
}

// HeartbeatAck answers a HeartbeatPing.
type HeartbeatAck struct {
	StreamID             int32
	LastStreamIDReceived int32
	Status               int64
}

func (m *HeartbeatAck) Marshal() []byte { return marshalHeartbeat(m.StreamID, m.LastStreamIDReceived, m.Status) }

func (m *HeartbeatAck) Unmarshal(b []byte) error {
	*m = HeartbeatAck{}
	return unmarshalHeartbeat(b, &m.StreamID, &m.LastStreamIDReceived, &m.Status)
}

func marshalHeartbeat(streamID, lastStreamID int32, status int64) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(streamID))
	b = appendVarint(b, 2, uint64(lastStreamID))
	b = appendVarint(b, 3, uint64(status))
	return b
}

func unmarshalHeartbeat(b []byte, streamID, lastStreamID *int32, status *int64) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readInt32(typ, v, streamID)
		case 2:
			return readInt32(typ, v, lastStreamID)
		case 3:
			return readInt64(typ, v, status)
		}
		return -1, nil
	})
}

// Close ends the MCS session. It has no fields.
type Close struct{}

func (m *Close) Marshal() []byte { return nil }

func (m *Close) Unmarshal(b []byte) error {
	return walk(b, func(protowire.Number, protowire.Type, []byte) (int, error) { return -1, nil })
}

// IqStanza is an info/query stanza. The client only logs them.
type IqStanza struct {
	RmqID int64
	Type  IqType
	ID    string
	From  string
	To    string
}

func (m *IqStanza) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.RmqID))
	// type is a required field, so it is written even when zero.
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.ID)
	b = appendString(b, 4, m.From)
	b = appendString(b, 5, m.To)
	return b
}

func (m *IqStanza) Unmarshal(b []byte) error {
	*m = IqStanza{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readInt64(typ, v, &m.RmqID)
		case 2:
			var t int32
			n, err := readInt32(typ, v, &t)
			m.Type = IqType(t)
			return n, err
		case 3:
			return readString(typ, v, &m.ID)
		case 4:
			return readString(typ, v, &m.From)
		case 5:
			return readString(typ, v, &m.To)
		}
		return -1, nil
	})
}

// AppData is one key/value pair of a data message.
type AppData struct {
	Key   string
	Value string
}

func (m *AppData) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.Key)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.Value)
	return b
}

func (m *AppData) Unmarshal(b []byte) error {
	*m = AppData{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, v, &m.Key)
		case 2:
			return readString(typ, v, &m.Value)
		}
		return -1, nil
	})
}

// DataMessageStanza carries a push message.
type DataMessageStanza struct {
	ID           string
	From         string
	To           string
	Category     string
	Token        string
	AppData      []AppData
	PersistentID string
	Sent         int64
	RawData      []byte
}

func (m *DataMessageStanza) Marshal() []byte {
	var b []byte
	b = appendString(b, 2, m.ID)
	// from and category are required fields.
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, m.From)
	b = appendString(b, 4, m.To)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, m.Category)
	b = appendString(b, 6, m.Token)
	for i := range m.AppData {
		b = appendMessage(b, 7, &m.AppData[i])
	}
	b = appendString(b, 9, m.PersistentID)
	b = appendVarint(b, 18, uint64(m.Sent))
	b = appendBytes(b, 21, m.RawData)
	return b
}

func (m *DataMessageStanza) Unmarshal(b []byte) error {
	*m = DataMessageStanza{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 2:
			return readString(typ, v, &m.ID)
		case 3:
			return readString(typ, v, &m.From)
		case 4:
			return readString(typ, v, &m.To)
		case 5:
			return readString(typ, v, &m.Category)
		case 6:
			return readString(typ, v, &m.Token)
		case 7:
			var kv AppData
			n, err := readMessage(typ, v, &kv)
			if err == nil {
				m.AppData = append(m.AppData, kv)
			}
			return n, err
		case 9:
			return readString(typ, v, &m.PersistentID)
		case 18:
			return readInt64(typ, v, &m.Sent)
		case 21:
			return readBytes(typ, v, &m.RawData)
		}
		return -1, nil
	})
}

// StreamErrorStanza reports a fatal stream error.
type StreamErrorStanza struct {
	Type string
	Text string
}

func (m *StreamErrorStanza) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.Type)
	b = appendString(b, 2, m.Text)
	return b
}

func (m *StreamErrorStanza) Unmarshal(b []byte) error {
	*m = StreamErrorStanza{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, v, &m.Type)
		case 2:
			return readString(typ, v, &m.Text)
		}
		return -1, nil
	})
}
