package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/middleware"
	"devtoolkit/internal/service"
	"devtoolkit/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const snapshotTimeout = 10 * time.Second

type WebSocketHandler struct {
	manager  *websocket.Manager
	tokens   middleware.TokenValidator
	upgrader ws.Upgrader
	logger   *zap.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, tokens middleware.TokenValidator, readBuf, writeBuf int, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		tokens:  tokens,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			// Connections authenticate with a bearer token, not cookies.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Debug("websocket token rejected", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := websocket.NewClient(uuid.New().String(), claims.UserID, conn, h.manager)

	select {
	case h.manager.Register <- client:
	case <-h.manager.Done():
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler answers subscription requests and republishes
// collections after writes.
type WebSocketMessageHandler struct {
	manager    *websocket.Manager
	docService *service.DocumentService
	logger     *zap.Logger
}

func NewWebSocketMessageHandler(manager *websocket.Manager, docService *service.DocumentService, logger *zap.Logger) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		manager:    manager,
		docService: docService,
		logger:     logger,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeSubscribe:
		return h.handleSubscribe(client, msg)

	case websocket.TypeUnsubscribe:
		var payload websocket.SubscribePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		h.manager.Unsubscribe(client, payload.Collection)

	case websocket.TypePing:
		pong, err := websocket.NewMessage(websocket.TypePong, nil)
		if err != nil {
			return err
		}
		return h.manager.SendToClient(client, pong)

	case websocket.TypePong:

	default:
		h.logger.Debug("unknown message type", zap.String("type", string(msg.Type)))
	}

	return nil
}

func (h *WebSocketMessageHandler) handleSubscribe(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.SubscribePayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return h.sendError(client, "", websocket.CodeInvalidArgument, "malformed subscribe payload")
	}

	userID, collection, ok := parseCollectionPath(payload.Collection)
	if !ok {
		return h.sendError(client, payload.Collection, websocket.CodeInvalidArgument, "collection must look like users/{userId}/{collection}")
	}

	if err := h.docService.Authorize(client.UserID, userID, collection); err != nil {
		return h.sendError(client, payload.Collection, websocket.CodePermissionDenied, "Missing or insufficient permissions")
	}

	if err := h.manager.Subscribe(client, payload.Collection); err != nil {
		return h.sendError(client, payload.Collection, websocket.CodeUnavailable, err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := h.manager.SendSnapshot(client, payload.Collection, h.loader(ctx, userID, collection)); err != nil {
		h.manager.Unsubscribe(client, payload.Collection)
		h.logger.Warn("initial snapshot failed", zap.String("collection", payload.Collection), zap.Error(err))
		return h.sendError(client, payload.Collection, websocket.CodeUnavailable, "could not load collection")
	}
	return nil
}

// CollectionChanged implements service.ChangeNotifier.
func (h *WebSocketMessageHandler) CollectionChanged(ctx context.Context, userID, collection string) {
	path := "users/" + userID + "/" + collection

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()
	if err := h.manager.Publish(path, h.loader(ctx, userID, collection)); err != nil {
		h.logger.Warn("snapshot publish failed", zap.String("collection", path), zap.Error(err))
	}
}

func (h *WebSocketMessageHandler) loader(ctx context.Context, userID, collection string) websocket.Loader {
	return func() ([]websocket.DocumentPayload, error) {
		docs, err := h.docService.List(ctx, userID, userID, collection)
		if err != nil {
			return nil, err
		}
		out := make([]websocket.DocumentPayload, 0, len(docs))
		for _, d := range docs {
			out = append(out, toPayload(d))
		}
		return out, nil
	}
}

func (h *WebSocketMessageHandler) sendError(client *websocket.Client, collection, code, message string) error {
	msg, err := websocket.NewMessage(websocket.TypeError, websocket.ErrorPayload{
		Collection: collection,
		Code:       code,
		Message:    message,
	})
	if err != nil {
		return err
	}
	return h.manager.SendToClient(client, msg)
}

func toPayload(d *domain.Document) websocket.DocumentPayload {
	r := d.Response()
	return websocket.DocumentPayload{ID: r.ID, Fields: r.Fields, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func parseCollectionPath(p string) (userID, collection string, ok bool) {
	parts := strings.Split(p, "/")
	if len(parts) != 3 || parts[0] != "users" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

var _ service.ChangeNotifier = (*WebSocketMessageHandler)(nil)
