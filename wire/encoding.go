package wire

import (
	"github.com/golang/snappy"

	"github.com/coral-colony/corald/coralutil/er"
)

// Events ride inside packet data in a compact form: the JSON envelope
// compressed with snappy.  The encoding is bijective, decode(encode(ev))
// always yields an identical envelope.

// EncodeEventData encodes an event for transit over the packet layer.
func EncodeEventData(ev *Event) ([]byte, er.R) {
	b, err := ev.Marshal()
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, b), nil
}

// DecodeEventData decodes packet data produced by EncodeEventData.
func DecodeEventData(data []byte) (*Event, er.R) {
	b, errr := snappy.Decode(nil, data)
	if errr != nil {
		return nil, ErrMalformedEvent.New("snappy: "+errr.Error(), nil)
	}
	return UnmarshalEvent(b)
}
