package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netreachd/internal/reachability"
)

func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r.Context(), nil
}

// watchClose cancels the returned context once the client goes away. Clients
// are not expected to send anything.
func watchClose(ctx context.Context, c *websocket.Conn) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}()
	return ctx, cancel
}

func writeMessage(ctx context.Context, c *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, b)
}

// StreamConnectivity sends the latest snapshot, once there is one, and then
// every change.
func StreamConnectivity(s *Service, w http.ResponseWriter, r *http.Request) {
	c, ctx, err := accept(w, r)
	if err != nil {
		log.WithError(err).Error("Failed to accept client")
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "closing")

	ctx, cancel := watchClose(ctx, c)
	defer cancel()

	ch, unsub := s.connectivity.Subscribe()
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Connectivity stream closed by client")
			return
		case snapshot, ok := <-ch:
			if !ok {
				return
			}
			if err := writeMessage(ctx, c, NewConnectivityInfo(snapshot)); err != nil {
				log.WithError(err).Debug("Failed to write connectivity update")
				return
			}
		}
	}
}

// StreamInternet runs a reachability observation for the lifetime of the
// socket.
func StreamInternet(settings reachability.Settings, w http.ResponseWriter, r *http.Request) {
	c, ctx, err := accept(w, r)
	if err != nil {
		log.WithError(err).Error("Failed to accept client")
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "closing")

	ctx, cancel := watchClose(ctx, c)
	defer cancel()

	ch, stop, err := reachability.ObserveSettings(ctx, settings)
	if err != nil {
		c.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Internet stream closed by client")
			return
		case connected, ok := <-ch:
			if !ok {
				return
			}
			info := InternetInfo{Connected: connected, Host: settings.Host, Port: settings.Port}
			if err := writeMessage(ctx, c, info); err != nil {
				log.WithError(err).Debug("Failed to write reachability update")
				return
			}
		}
	}
}
