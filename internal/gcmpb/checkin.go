package gcmpb

import "google.golang.org/protobuf/encoding/protowire"

// DeviceType identifies the platform in a checkin.
type DeviceType int32

const (
	DeviceAndroidOS     DeviceType = 1
	DeviceIOSOS         DeviceType = 2
	DeviceChromeBrowser DeviceType = 3
	DeviceChromeOS      DeviceType = 4
)

// AndroidBuildProto describes the handset build reported at checkin.
type AndroidBuildProto struct {
	Fingerprint        string
	Hardware           string
	Brand              string
	Radio              string
	Bootloader         string
	ClientID           string
	Time               int64
	PackageVersionCode int32
	Device             string
	SDKVersion         int32
	Model              string
	Manufacturer       string
	Product            string
	OtaInstalled       bool
}

func (m *AndroidBuildProto) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Fingerprint)
	b = appendString(b, 2, m.Hardware)
	b = appendString(b, 3, m.Brand)
	b = appendString(b, 4, m.Radio)
	b = appendString(b, 5, m.Bootloader)
	b = appendString(b, 6, m.ClientID)
	b = appendVarint(b, 7, uint64(m.Time))
	b = appendVarint(b, 8, uint64(m.PackageVersionCode))
	b = appendString(b, 9, m.Device)
	b = appendVarint(b, 10, uint64(m.SDKVersion))
	b = appendString(b, 11, m.Model)
	b = appendString(b, 12, m.Manufacturer)
	b = appendString(b, 13, m.Product)
	b = appendBool(b, 14, m.OtaInstalled)
	return b
}

func (m *AndroidBuildProto) Unmarshal(b []byte) error {
	*m = AndroidBuildProto{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, v, &m.Fingerprint)
		case 2:
			return readString(typ, v, &m.Hardware)
		case 3:
			return readString(typ, v, &m.Brand)
		case 4:
			return readString(typ, v, &m.Radio)
		case 5:
			return readString(typ, v, &m.Bootloader)
		case 6:
			return readString(typ, v, &m.ClientID)
		case 7:
			return readInt64(typ, v, &m.Time)
		case 8:
			return readInt32(typ, v, &m.PackageVersionCode)
		case 9:
			return readString(typ, v, &m.Device)
		case 10:
			return readInt32(typ, v, &m.SDKVersion)
		case 11:
			return readString(typ, v, &m.Model)
		case 12:
			return readString(typ, v, &m.Manufacturer)
		case 13:
			return readString(typ, v, &m.Product)
		case 14:
			return readBool(typ, v, &m.OtaInstalled)
		}
		return -1, nil
	})
}

// AndroidCheckinProto is the device section of a checkin request.
type AndroidCheckinProto struct {
	Build           *AndroidBuildProto
	LastCheckinMsec int64
	UserNumber      int32
	Type            DeviceType
}

func (m *AndroidCheckinProto) Marshal() []byte {
	var b []byte
	if m.Build != nil {
		b = appendMessage(b, 1, m.Build)
	}
	b = appendVarint(b, 2, uint64(m.LastCheckinMsec))
	b = appendVarint(b, 9, uint64(m.UserNumber))
	b = appendVarint(b, 12, uint64(m.Type))
	return b
}

func (m *AndroidCheckinProto) Unmarshal(b []byte) error {
	*m = AndroidCheckinProto{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			m.Build = &AndroidBuildProto{}
			return readMessage(typ, v, m.Build)
		case 2:
			return readInt64(typ, v, &m.LastCheckinMsec)
		case 9:
			return readInt32(typ, v, &m.UserNumber)
		case 12:
			var t int32
			n, err := readInt32(typ, v, &t)
			m.Type = DeviceType(t)
			return n, err
		}
		return -1, nil
	})
}

// AndroidCheckinRequest is posted to the checkin endpoint. ID and
// SecurityToken are zero on a first checkin.
type AndroidCheckinRequest struct {
	ID               int64
	Checkin          *AndroidCheckinProto
	Locale           string
	TimeZone         string
	SecurityToken    uint64
	Version          int32
	Fragment         int32
	UserSerialNumber int32
}

func (m *AndroidCheckinRequest) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 2, uint64(m.ID))
	checkin := m.Checkin
	if checkin == nil {
		checkin = &AndroidCheckinProto{}
	}
	b = appendMessage(b, 4, checkin)
	b = appendString(b, 6, m.Locale)
	b = appendString(b, 12, m.TimeZone)
	b = appendFixed64(b, 13, m.SecurityToken)
	b = appendVarint(b, 14, uint64(m.Version))
	b = appendVarint(b, 20, uint64(m.Fragment))
	b = appendVarint(b, 22, uint64(m.UserSerialNumber))
	return b
}

func (m *AndroidCheckinRequest) Unmarshal(b []byte) error {
	*m = AndroidCheckinRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 2:
			return readInt64(typ, v, &m.ID)
		case 4:
			m.Checkin = &AndroidCheckinProto{}
			return readMessage(typ, v, m.Checkin)
		case 6:
			return readString(typ, v, &m.Locale)
		case 12:
			return readString(typ, v, &m.TimeZone)
		case 13:
			return readFixed64(typ, v, &m.SecurityToken)
		case 14:
			return readInt32(typ, v, &m.Version)
		case 20:
			return readInt32(typ, v, &m.Fragment)
		case 22:
			return readInt32(typ, v, &m.UserSerialNumber)
		}
		return -1, nil
	})
}

// AndroidCheckinResponse carries the device credentials issued at checkin.
type AndroidCheckinResponse struct {
	StatsOk       bool
	TimeMsec      int64
	AndroidID     uint64
	SecurityToken uint64
}

func (m *AndroidCheckinResponse) Marshal() []byte {
	var b []byte
	// stats_ok is required.
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.StatsOk))
	b = appendVarint(b, 3, uint64(m.TimeMsec))
	b = appendFixed64(b, 7, m.AndroidID)
	b = appendFixed64(b, 8, m.SecurityToken)
	return b
}

func (m *AndroidCheckinResponse) Unmarshal(b []byte) error {
	*m = AndroidCheckinResponse{}
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return readBool(typ, v, &m.StatsOk)
		case 3:
			return readInt64(typ, v, &m.TimeMsec)
		case 7:
			return readFixed64(typ, v, &m.AndroidID)
		case 8:
			return readFixed64(typ, v, &m.SecurityToken)
		}
		return -1, nil
	})
}
