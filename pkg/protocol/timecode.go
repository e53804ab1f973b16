package protocol

import (
	"encoding/binary"
	"time"
)

// The terminal stores its clock as a packed 32-bit value counting seconds
// within a calendar scheme that allots 31 days to every month:
//
//	((year%100)*12*31 + (month-1)*31 + day-1)*86400 + (hour*60+minute)*60 + second
//
// The scheme wastes codes for short months but round-trips every valid
// calendar date, which is all the terminal needs.

// EncodeTime packs t into the terminal's clock representation.
// Sub-second precision is discarded.
func EncodeTime(t time.Time) uint32 {
	year, month, day := t.Date()
	days := uint32(year%100)*12*31 + uint32(month-1)*31 + uint32(day-1)
	return days*86400 + uint32(t.Hour()*3600+t.Minute()*60+t.Second())
}

// DecodeTime unpacks a terminal clock value into a time.Time in loc.
// Years map into the 2000-2099 range.
func DecodeTime(v uint32, loc *time.Location) time.Time {
	sec := int(v % 60)
	v /= 60
	min := int(v % 60)
	v /= 60
	hour := int(v % 24)
	v /= 24
	day := int(v%31) + 1
	v /= 31
	month := time.Month(v%12) + 1
	v /= 12
	year := int(v) + 2000
	return time.Date(year, month, day, hour, min, sec, 0, loc)
}

// AppendTimePayload appends the 4-byte clock payload for CmdSetTime.
func AppendTimePayload(dst []byte, t time.Time) []byte {
	return binary.LittleEndian.AppendUint32(dst, EncodeTime(t))
}

// ParseTimePayload decodes the clock payload of a GET_TIME response.
// Extra trailing bytes are ignored; some firmware pads the payload.
func ParseTimePayload(payload []byte, loc *time.Location) (time.Time, error) {
	if len(payload) < 4 {
		return time.Time{}, ErrShortPacket
	}
	return DecodeTime(binary.LittleEndian.Uint32(payload[:4]), loc), nil
}
