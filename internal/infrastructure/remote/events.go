package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

// EventListener follows the back office push channel and reconnects with
// exponential backoff whenever the socket drops.
type EventListener struct {
	url        string
	creds      ports.CredentialSource
	dialer     *websocket.Dialer
	maxBackoff time.Duration
}

func NewEventListener(baseURL string, creds ports.CredentialSource) (*EventListener, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || base.Host == "" {
		return nil, errs.Validation("sync.base_url", "invalid url")
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	base.Path += "/api/events"

	return &EventListener{
		url:        base.String(),
		creds:      creds,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		maxBackoff: 2 * time.Minute,
	}, nil
}

// Listen calls handle for every event until ctx is cancelled.
func (l *EventListener) Listen(ctx context.Context, handle func(ports.Event)) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "remote.events"))

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = l.maxBackoff
	retry.MaxElapsedTime = 0

	for {
		connected, err := l.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			retry.Reset()
		}
		wait := retry.NextBackOff()
		logging.Warn(logCtx, "event stream disconnected", slog.Duration("retry_in", wait), slog.Any("err", errs.Loggable(err)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (l *EventListener) session(ctx context.Context, handle func(ports.Event)) (bool, error) {
	header := http.Header{}
	if l.creds != nil {
		token, err := l.creds.Credential(ctx)
		if err != nil {
			return false, err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := l.dialer.DialContext(ctx, l.url, header)
	if err != nil {
		return false, errs.Wrap(err, "dial event stream")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, errs.Wrap(err, "read event")
		}
		var event ports.Event
		if err := json.Unmarshal(message, &event); err != nil || event.Type == "" {
			continue
		}
		handle(event)
	}
}
