package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"omnibox/internal/channels"
	"omnibox/internal/models"
	"omnibox/internal/storage"

	"github.com/gorilla/mux"
)

// ChannelHandler exposes the channel-manager operations plus connection
// lifecycle and inbox listing endpoints. All routes require a bearer token;
// the token's company claim scopes every operation.
type ChannelHandler struct {
	auth    *AuthHandler
	store   *storage.Storage
	manager *channels.Manager
}

func NewChannelHandler(auth *AuthHandler, store *storage.Storage, manager *channels.Manager) *ChannelHandler {
	return &ChannelHandler{auth: auth, store: store, manager: manager}
}

// SendReply handles POST /api/conversations/{id}/reply
func (h *ChannelHandler) SendReply(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conversationID, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var payload struct {
		Content string                `json:"content"`
		Options channels.ReplyOptions `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	result := h.manager.SendReply(r.Context(), conversationID, payload.Content, payload.Options, claims.UserID, claims.CompanyID)
	writeResult(w, result.Success, result)
}

// DeleteMessage handles DELETE /api/messages/{id}
func (h *ChannelHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	messageID, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	result := h.manager.DeleteMessage(r.Context(), messageID, claims.UserID, claims.CompanyID)
	writeResult(w, result.Success, result)
}

// GetCapabilities handles GET /api/channels/{type}/capabilities
func (h *ChannelHandler) GetCapabilities(w http.ResponseWriter, r *http.Request) {
	if _, err := h.auth.Authenticate(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	channelType := mux.Vars(r)["type"]
	caps := h.manager.GetCapabilities(channelType)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":      true,
		"channelType":  channelType,
		"capabilities": caps,
	})
}

// ListConversations handles GET /api/conversations
func (h *ChannelHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	convs, err := h.store.ListConversations(claims.CompanyID, limit)
	if err != nil {
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": convs})
}

// ListMessages handles GET /api/conversations/{id}/messages
func (h *ChannelHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conversationID, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	conv, err := h.store.GetConversation(conversationID)
	if err != nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if conv.CompanyID != claims.CompanyID {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.store.ListMessages(conversationID, limit)
	if err != nil {
		http.Error(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": msgs})
}

// CreateConnection handles POST /api/channels
func (h *ChannelHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var payload struct {
		Name           string          `json:"name"`
		ChannelType    string          `json:"channel_type"`
		ConnectionData json.RawMessage `json:"connection_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ChannelType == "" {
		http.Error(w, "channel_type is required", http.StatusBadRequest)
		return
	}

	conn, err := h.store.CreateChannelConnection(&models.ChannelConnection{
		CompanyID:      claims.CompanyID,
		Name:           payload.Name,
		ChannelType:    payload.ChannelType,
		Status:         models.ConnectionStatusInactive,
		ConnectionData: string(payload.ConnectionData),
	})
	if err != nil {
		http.Error(w, "Failed to create channel connection", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": conn})
}

// ListConnections handles GET /api/channels
func (h *ChannelHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conns, err := h.store.ListChannelConnections(claims.CompanyID)
	if err != nil {
		http.Error(w, "Failed to list channel connections", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "data": conns})
}

// Connect handles POST /api/channels/{id}/connect
func (h *ChannelHandler) Connect(w http.ResponseWriter, r *http.Request) {
	conn, connector, ok := h.connectionForRequest(w, r)
	if !ok {
		return
	}

	if err := connector.Connect(conn); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"status":  connector.ConnectionStatus(conn),
	})
}

// Disconnect handles POST /api/channels/{id}/disconnect
func (h *ChannelHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	conn, connector, ok := h.connectionForRequest(w, r)
	if !ok {
		return
	}

	if err := connector.Disconnect(conn); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

// ConnectionStatus handles GET /api/channels/{id}/status
func (h *ChannelHandler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	conn, connector, ok := h.connectionForRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"status":  connector.ConnectionStatus(conn),
	})
}

// GetQRCode handles GET /api/channels/{id}/qr for unofficial WhatsApp
// connections.
func (h *ChannelHandler) GetQRCode(wa *channels.WhatsAppAdapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.auth.Authenticate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		connectionID, ok := pathID(r, "id")
		if !ok {
			http.Error(w, "Invalid connection ID", http.StatusBadRequest)
			return
		}
		conn, err := h.store.GetChannelConnection(connectionID)
		if err != nil {
			http.Error(w, "Channel connection not found", http.StatusNotFound)
			return
		}
		if conn.CompanyID != claims.CompanyID {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}
		if conn.ChannelType != string(channels.ChannelWhatsApp) {
			http.Error(w, "QR pairing is only available for WhatsApp connections", http.StatusBadRequest)
			return
		}

		qr, err := wa.GetQRCode(conn)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"qr":      qr,
			"status":  wa.ConnectionStatus(conn),
		})
	}
}

// connectionForRequest authenticates the request, loads the connection under
// the caller's tenant and resolves its adapter's Connector.
func (h *ChannelHandler) connectionForRequest(w http.ResponseWriter, r *http.Request) (conn *models.ChannelConnection, connector channels.Connector, ok bool) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return nil, nil, false
	}

	connectionID, idOK := pathID(r, "id")
	if !idOK {
		http.Error(w, "Invalid connection ID", http.StatusBadRequest)
		return nil, nil, false
	}

	loaded, err := h.store.GetChannelConnection(connectionID)
	if err != nil {
		http.Error(w, "Channel connection not found", http.StatusNotFound)
		return nil, nil, false
	}
	if loaded.CompanyID != claims.CompanyID {
		http.Error(w, "Access denied", http.StatusForbidden)
		return nil, nil, false
	}

	connector, found := h.manager.Connector(loaded.ChannelType)
	if !found {
		http.Error(w, "Channel type has no connection lifecycle", http.StatusBadRequest)
		return nil, nil, false
	}
	return loaded, connector, true
}

func pathID(r *http.Request, name string) (uint, bool) {
	raw, exists := mux.Vars(r)[name]
	if !exists {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func writeResult(w http.ResponseWriter, success bool, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if !success {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	json.NewEncoder(w).Encode(result)
}
