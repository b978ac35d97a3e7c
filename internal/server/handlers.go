// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// credentialFrom extracts the opaque credential from the "token" query
// parameter or an "Authorization: Bearer" header.
func credentialFrom(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// WebSocketHandler authenticates the request, upgrades it to a WebSocket and
// registers the resulting client. Unauthenticated requests are answered
// with 401 and never upgraded.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if h.closing() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	userID, err := h.lifecycle.Authenticate(r.Context(), credentialFrom(r))
	if err != nil {
		h.log.Info("rejected WebSocket connection",
			zap.String("addr", r.RemoteAddr),
			zap.Stringer("state", StateRejected),
			zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.Rejections.WithLabelValues("upgrade_failed").Inc()
		h.log.Info("WebSocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	h.start(NewClient(conn, h, userID, r.RemoteAddr))
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat server is running!")
}

// TestPageHandler serves an HTML page for exercising the WebSocket protocol
// by hand: paste a token, pick a receiver, send messages and typing signals.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; font-family: monospace; }
        input[type="text"] { width: 260px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
    </style>
</head>
<body>
    <h1>Chat WebSocket Test</h1>
    <div>
        <input type="text" id="token" placeholder="JWT token">
        <button onclick="connect()">Connect</button>
    </div>
    <div>
        <input type="text" id="receiver" placeholder="Receiver user id">
        <input type="text" id="content" placeholder="Type a message..." oninput="typing()">
        <button onclick="sendMessage()">Send</button>
    </div>
    <div id="events"></div>
    <script>
        let ws = null;
        let typingTimer = null;
        const events = document.getElementById('events');

        function log(text) {
            const line = document.createElement('div');
            line.textContent = text;
            events.appendChild(line);
            events.scrollTop = events.scrollHeight;
        }

        function emit(type, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({type: type, data: data}));
            }
        }

        function connect() {
            const token = encodeURIComponent(document.getElementById('token').value.trim());
            ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws?token=' + token);
            ws.onopen = () => log('connected');
            ws.onmessage = (event) => log(event.data);
            ws.onclose = () => { log('closed'); ws = null; };
        }

        function receiver() {
            return document.getElementById('receiver').value.trim();
        }

        function typing() {
            emit('typing', {receiverId: receiver()});
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => emit('stopTyping', {receiverId: receiver()}), 2000);
        }

        function sendMessage() {
            const input = document.getElementById('content');
            if (input.value.trim()) {
                emit('sendMessage', {receiver: receiver(), content: input.value.trim()});
                input.value = '';
            }
        }
    </script>
</body>
</html>`
