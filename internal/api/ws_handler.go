package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"acadRepo/internal/auth"
	"acadRepo/internal/tasks"
)

const (
	socketAuthTimeout = 10 * time.Second
	socketPingEvery   = 30 * time.Second
	socketWriteWait   = 5 * time.Second
)

// Event types sent to clients.
const (
	eventReady    = "ready"
	eventSynopsis = "synopsis"
)

// socketEvent is the only frame the server writes. "ready" follows a successful
// subscription; "synopsis" carries one finished background synopsis task.
type socketEvent struct {
	Type         string                       `json:"type"`
	Notification *tasks.SynopsisNotifyMessage `json:"notification,omitempty"`
}

type socketAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NotificationSocket streams a user's synopsis notifications over a websocket.
// The first client frame must be {"type":"auth","token":"<access token>"}.
type NotificationSocket struct {
	redis    redis.UniversalClient
	auth     *auth.AuthService
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewNotificationSocket builds the handler. With no allowed origins only same-host origins pass.
func NewNotificationSocket(client redis.UniversalClient, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *NotificationSocket {
	return &NotificationSocket{
		redis:    client,
		auth:     authService,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(allowed) == 0 {
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		}
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// Serve upgrades the request, authenticates the client and relays notifications until
// either side goes away.
func (s *NotificationSocket) Serve(c *gin.Context) {
	log := loggerFrom(c, s.logger)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	claims, reason, err := s.authenticate(conn)
	if err != nil {
		closeSocket(conn, websocket.ClosePolicyViolation, reason)
		log.Warn("websocket authentication failed", slog.String("reason", reason), slog.Any("error", err))
		return
	}
	log = log.With(slog.Uint64("user_id", uint64(claims.UserID)))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go drain(conn, cancel)

	if err := s.relay(ctx, conn, claims.UserID, log); err != nil && ctx.Err() == nil {
		log.Info("websocket closed", slog.Any("error", err))
	}
}

// authenticate reads the auth frame. reason is the close text sent on failure.
func (s *NotificationSocket) authenticate(conn *websocket.Conn) (*auth.TokenClaims, string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(socketAuthTimeout)); err != nil {
		return nil, "read error", err
	}

	var msg socketAuthMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, "invalid auth payload", fmt.Errorf("read auth message: %w", err)
	}
	if msg.Type != "auth" || msg.Token == "" {
		return nil, "auth required", errors.New("first message is not an auth message")
	}

	claims, err := s.auth.ValidateToken(msg.Token)
	if err != nil {
		return nil, "unauthorized", fmt.Errorf("validate token: %w", err)
	}
	if claims.TokenType != auth.TokenTypeAccess {
		return nil, "access token required", fmt.Errorf("token type %q", claims.TokenType)
	}
	if claims.MustChangePassword {
		return nil, "password change required", errors.New("password change pending")
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, "read error", err
	}
	return claims, "", nil
}

// relay subscribes to the user's channel and forwards valid synopsis notifications.
// Payloads that do not decode as one are logged and dropped.
func (s *NotificationSocket) relay(ctx context.Context, conn *websocket.Conn, userID uint, log *slog.Logger) error {
	channel := tasks.NotifyChannel(userID)
	sub := s.redis.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		closeSocket(conn, websocket.CloseInternalServerErr, "notifications unavailable")
		return fmt.Errorf("subscribe %q: %w", channel, err)
	}
	if err := writeEvent(conn, socketEvent{Type: eventReady}); err != nil {
		return fmt.Errorf("write ready: %w", err)
	}

	messages := sub.Channel()
	ping := time.NewTicker(socketPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			closeSocket(conn, websocket.CloseNormalClosure, "")
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("notification channel closed")
			}
			notification, err := tasks.ParseSynopsisNotification([]byte(msg.Payload))
			if err != nil {
				log.Warn("dropping malformed notification", slog.String("channel", channel), slog.Any("error", err))
				continue
			}
			if err := writeEvent(conn, socketEvent{Type: eventSynopsis, Notification: &notification}); err != nil {
				return fmt.Errorf("write notification: %w", err)
			}
			log.Info("synopsis notification delivered",
				slog.Uint64("project_id", uint64(notification.ProjectID)),
				slog.String("status", notification.Status),
				slog.String("correlation_id", notification.CorrelationID),
			)
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait)); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

// drain consumes client frames so control messages are processed, and cancels once the
// client disconnects.
func drain(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev socketEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}

func closeSocket(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(socketWriteWait))
}
