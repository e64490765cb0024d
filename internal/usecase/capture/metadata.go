package capture

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetinspect/internal/errs"
)

// Capture metadata travels inside the JPEG as an APP15 segment holding
// metadataTag followed by a JSON document.
const (
	markerPrefix   = 0xFF
	markerSOI      = 0xD8
	markerSOS      = 0xDA
	markerEOI      = 0xD9
	markerMetadata = 0xEF
	maxSegmentBody = 0xFFFF - 2
)

var metadataTag = []byte("FLEETINSPECT\x00")

type Metadata struct {
	ClientRef     string    `json:"client_ref"`
	CapturedAt    time.Time `json:"captured_at"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	GPSAvailable  bool      `json:"gps_available"`
	InspectionRef string    `json:"inspection_ref,omitempty"`
	ItemID        string    `json:"item_id,omitempty"`
}

// EmbedMetadata inserts meta right after the start-of-image marker.
func EmbedMetadata(jpegData []byte, meta Metadata) ([]byte, error) {
	if len(jpegData) < 2 || jpegData[0] != markerPrefix || jpegData[1] != markerSOI {
		return nil, errors.New("not a jpeg stream")
	}

	doc, err := json.Marshal(meta)
	if err != nil {
		return nil, errs.Wrap(err, "encode capture metadata")
	}
	body := append(append([]byte{}, metadataTag...), doc...)
	if len(body) > maxSegmentBody {
		return nil, fmt.Errorf("capture metadata too large: %d bytes", len(body))
	}

	out := make([]byte, 0, len(jpegData)+len(body)+4)
	out = append(out, jpegData[:2]...)
	out = append(out, markerPrefix, markerMetadata)
	out = binary.BigEndian.AppendUint16(out, uint16(len(body)+2))
	out = append(out, body...)
	out = append(out, jpegData[2:]...)
	return out, nil
}

// ReadMetadata walks the JPEG header segments and decodes the capture
// metadata segment. It returns false when the image carries none.
func ReadMetadata(jpegData []byte) (Metadata, bool, error) {
	if len(jpegData) < 2 || jpegData[0] != markerPrefix || jpegData[1] != markerSOI {
		return Metadata{}, false, errs.Validation("image", "is not a jpeg stream")
	}

	pos := 2
	for pos+4 <= len(jpegData) {
		if jpegData[pos] != markerPrefix {
			return Metadata{}, false, errs.Validation("image", fmt.Sprintf("malformed segment at offset %d", pos))
		}
		marker := jpegData[pos+1]
		if marker == markerSOS || marker == markerEOI {
			break
		}
		length := int(binary.BigEndian.Uint16(jpegData[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(jpegData) {
			return Metadata{}, false, errs.Validation("image", fmt.Sprintf("truncated segment at offset %d", pos))
		}
		body := jpegData[pos+4 : pos+2+length]
		if marker == markerMetadata && bytes.HasPrefix(body, metadataTag) {
			var meta Metadata
			if err := json.Unmarshal(body[len(metadataTag):], &meta); err != nil {
				return Metadata{}, false, errs.Validation("image", fmt.Sprintf("malformed capture metadata: %v", err))
			}
			return meta, true, nil
		}
		pos += 2 + length
	}
	return Metadata{}, false, nil
}
