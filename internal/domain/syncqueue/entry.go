package syncqueue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fleetinspect/internal/errs"
)

type Kind string

const (
	KindPhotoUpload        Kind = "photo-upload"
	KindInspectionComplete Kind = "inspection-complete"
)

func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case KindPhotoUpload, KindInspectionComplete:
		return kind, nil
	}
	return "", errs.Validation("kind", fmt.Sprintf("unknown value %q", raw))
}

// Priority orders dispatch inside a drain cycle: uploads go before completions.
func (k Kind) Priority() int {
	if k == KindPhotoUpload {
		return 0
	}
	return 1
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusFailed   Status = "failed"
)

type Entry struct {
	ID            uint64
	Kind          Kind
	Ref           string
	InspectionID  uint64
	Payload       []byte
	Status        Status
	Attempts      int
	LastAttemptAt *time.Time
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}

type PhotoUploadPayload struct {
	PhotoID   uint64 `json:"photo_id"`
	ClientRef string `json:"client_ref"`
}

type CompletionPayload struct {
	InspectionID uint64 `json:"inspection_id"`
	ClientRef    string `json:"client_ref"`
}

func EncodePayload(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(err, "encode queue payload")
	}
	return raw, nil
}

func (e Entry) PhotoUpload() (PhotoUploadPayload, error) {
	var payload PhotoUploadPayload
	if err := e.decode(KindPhotoUpload, &payload); err != nil {
		return PhotoUploadPayload{}, err
	}
	return payload, nil
}

func (e Entry) Completion() (CompletionPayload, error) {
	var payload CompletionPayload
	if err := e.decode(KindInspectionComplete, &payload); err != nil {
		return CompletionPayload{}, err
	}
	return payload, nil
}

func (e Entry) decode(kind Kind, out any) error {
	if e.Kind != kind {
		return fmt.Errorf("queue entry %d is %s, not %s", e.ID, e.Kind, kind)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return errs.Wrapf(err, "decode queue entry %d payload", e.ID)
	}
	return nil
}
