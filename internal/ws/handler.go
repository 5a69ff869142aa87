package ws

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus"
	"github.com/isqad/livelook-meet/internal/relay"
	"github.com/isqad/livelook-meet/internal/telemetry"
)

const (
	wsConnectionIDKey = "connectionId"
	wsRoomIDKey       = "roomId"
	wsDisplayNameKey  = "displayName"
	wsSubscriptionKey = "subscription"
)

var (
	errNoConnectionID = errors.New("session has no connection id")
	errNoSubscription = errors.New("session has no subscription")
)

// WsHandler upgrades the request. The connection id is assigned here and the outgoing
// subscription exists before the relay can address the connection.
func WsHandler(websocket *melody.Melody, subscriber eventbus.Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		connID := core.ConnectionID(uuid.NewString())

		subscription, err := subscriber.SubscribeClient(connID)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Str("connectionId", string(connID)).Msg("can't subscribe the connection to signaling channel")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		keys := make(map[string]interface{})
		keys[wsConnectionIDKey] = connID
		keys[wsRoomIDKey] = core.RoomID(query.Get("roomId"))
		keys[wsDisplayNameKey] = query.Get("displayName")
		keys[wsSubscriptionKey] = subscription

		if err := websocket.HandleRequestWithKeys(w, r, keys); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("connectionId", string(connID)).Msg("can't handle request")
			subscription.Close()
		}
	}
}

func ConnectHandler(signaling *relay.Relay) func(session *melody.Session) {
	return func(session *melody.Session) {
		connID, err := connectionID(session)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract connection id")
			closeWsSession(session)
			return
		}
		subscription, err := getSubscription(session)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Str("connectionId", string(connID)).Msg("extract subscription")
			closeWsSession(session)
			return
		}

		telemetry.SessionStarted()

		ready := make(chan struct{})
		go func() {
			ch := subscription.Channel()

			close(ready)
			for msg := range ch {
				if err := session.Write(msg); err != nil {
					// there's only session closed error can be
					log.Debug().Err(err).Str("service", "ws").Str("connectionId", string(connID)).Msg("write to closed session")
					return
				}
			}
		}()
		<-ready

		roomID, _ := session.Keys[wsRoomIDKey].(core.RoomID)
		displayName, _ := session.Keys[wsDisplayNameKey].(string)

		log.Info().Str("service", "ws").Str("connectionId", string(connID)).Str("roomId", string(roomID)).Msg("connected")

		signaling.Connect(connID, roomID, displayName)
	}
}

func DisconnectHandler(signaling *relay.Relay) func(session *melody.Session) {
	return func(session *melody.Session) {
		connID, err := connectionID(session)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract connection id")
			return
		}

		log.Info().Str("service", "ws").Str("connectionId", string(connID)).Msg("disconnected")

		signaling.Disconnect(connID)
		telemetry.SessionStopped()

		subscription, err := getSubscription(session)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Str("connectionId", string(connID)).Msg("extract subscription")
			return
		}
		if err := subscription.Close(); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("connectionId", string(connID)).Msg("close subscription")
		}
	}
}

func HandleMessage(signaling *relay.Relay) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		connID, err := connectionID(s)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract connection id")
			closeWsSession(s)
			return
		}

		signaling.HandleMessage(connID, msg)
	}
}

func connectionID(session *melody.Session) (core.ConnectionID, error) {
	connID, ok := session.Keys[wsConnectionIDKey].(core.ConnectionID)
	if !ok || connID == "" {
		return "", errNoConnectionID
	}
	return connID, nil
}

func getSubscription(session *melody.Session) (eventbus.Subscription, error) {
	subscription, ok := session.Keys[wsSubscriptionKey].(eventbus.Subscription)
	if !ok {
		return nil, errNoSubscription
	}
	return subscription, nil
}

func closeWsSession(session *melody.Session) {
	if err := session.Close(); err != nil {
		log.Error().Err(err).Str("service", "ws").Msg("close session")
	}
}
