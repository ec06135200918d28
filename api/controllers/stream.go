package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/echopay/echopay-backend/api/middleware"
	"github.com/echopay/echopay-backend/api/responses"
	"github.com/echopay/echopay-backend/api/validators"
	"github.com/echopay/echopay-backend/internal/broadcaster"
	pkgerrors "github.com/echopay/echopay-backend/pkg/errors"
	"github.com/echopay/echopay-backend/pkg/logger"
)

const (
	defaultPingPeriod = 30 * time.Second
	streamWriteWait   = 10 * time.Second
	streamReadLimit   = 4096
)

// Subscriber is the broadcaster surface the stream needs.
type Subscriber interface {
	Subscribe(filter broadcaster.Filter) *broadcaster.Subscription
	Unsubscribe(id uuid.UUID)
}

type streamMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers authenticate with a bearer token, not cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StatusStream upgrades to a WebSocket and forwards matching broadcaster updates. Filters come
// from the transactionIds, walletIds and statuses query parameters. Users may only watch their
// own wallets; staff may watch anything.
func StatusStream(hub Subscriber, pingPeriod time.Duration, logg *logger.Logger) http.HandlerFunc {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := streamFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "stream.upgrade_failed")
			return
		}
		defer conn.Close()

		sub := hub.Subscribe(filter)
		defer hub.Unsubscribe(sub.ID)

		ctx := logg.WithField(r.Context(), "subscription_id", sub.ID.String())
		logg.Info(ctx, "stream.subscribed")

		closed := make(chan struct{})
		go readPump(conn, pingPeriod, closed)

		if err := writeStream(conn, streamMessage{
			Type:      "subscribed",
			Timestamp: time.Now().UTC(),
			Data:      map[string]any{"subscriptionId": sub.ID, "filter": filter},
		}); err != nil {
			return
		}

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				logg.Info(ctx, "stream.client_closed")
				return
			case update, ok := <-sub.Updates:
				if !ok {
					// Swept as inactive or unsubscribed elsewhere.
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"),
						time.Now().Add(streamWriteWait))
					return
				}
				if err := writeStream(conn, streamMessage{Type: "status_update", Timestamp: update.Timestamp, Data: update}); err != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "stream.write_failed")
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed. Closing done
// tells the writer the client went away.
func readPump(conn *websocket.Conn, pingPeriod time.Duration, done chan<- struct{}) {
	defer close(done)
	wait := pingPeriod * 2
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeStream(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}

func streamFilter(r *http.Request) (broadcaster.Filter, error) {
	filter := broadcaster.Filter{
		TransactionIDs: validators.QueryList(r, "transactionIds"),
		WalletIDs:      validators.QueryList(r, "walletIds"),
		Statuses:       validators.QueryList(r, "statuses"),
	}
	if isStaff(r.Context()) {
		return filter, nil
	}
	if len(filter.WalletIDs) == 0 {
		filter.WalletIDs = middleware.WalletIDsFromContext(r.Context())
	}
	if len(filter.WalletIDs) == 0 {
		return filter, pkgerrors.New(pkgerrors.CodeForbidden, "no wallets to stream")
	}
	for _, id := range filter.WalletIDs {
		if !middleware.OwnsWallet(r.Context(), id) {
			return filter, pkgerrors.New(pkgerrors.CodeForbidden, "wallet access denied").
				WithDetails(map[string]any{"walletId": id})
		}
	}
	return filter, nil
}
