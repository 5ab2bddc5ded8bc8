package server

import (
	"fmt"
	"net/http"
)

// TestPageHandler serves an HTML page for exercising the WebSocket endpoint
// by hand: connect with a token, send typing, status and chat frames, and
// watch the events arrive.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.log.Debug().Err(err).Msg("Error writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
            white-space: pre-wrap;
        }
        input[type="text"] { width: 260px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="token" placeholder="JWT (see cmd/devtoken)">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="chatId" placeholder="Chat id">
        <input type="text" id="content" placeholder="Message" disabled>
        <button class="needs-conn" onclick="sendChat()" disabled>Send</button>
        <button class="needs-conn" onclick="sendTyping(true)" disabled>Typing</button>
        <button class="needs-conn" onclick="sendTyping(false)" disabled>Stop typing</button>
        <button class="needs-conn" onclick="sendStatus('away')" disabled>Away</button>
        <button class="needs-conn" onclick="sendStatus('online')" disabled>Online</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');
        const contentInput = document.getElementById('content');

        function log(line) {
            const el = document.createElement('div');
            el.textContent = line;
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
            contentInput.disabled = !connected;
            document.querySelectorAll('.needs-conn').forEach(b => b.disabled = !connected);
        }

        function send(type, payload) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                const frame = JSON.stringify({ type: type, payload: payload });
                ws.send(frame);
                log('> ' + frame);
            }
        }

        function chatId() { return document.getElementById('chatId').value.trim(); }

        function sendChat() {
            const content = contentInput.value.trim();
            if (content) {
                send('chat_message', { chatId: chatId(), content: content });
                contentInput.value = '';
            }
        }

        function sendTyping(isTyping) { send('typing_status', { chatId: chatId(), isTyping: isTyping }); }

        function sendStatus(status) { send('status_update', { status: status }); }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const token = encodeURIComponent(document.getElementById('token').value.trim());
            ws = new WebSocket(scheme + location.host + '/ws?token=' + token);

            ws.onopen = function() { updateStatus(true); };
            ws.onmessage = function(event) { log('< ' + event.data); };
            ws.onclose = function(event) {
                log('Connection closed (' + event.code + (event.reason ? ': ' + event.reason : '') + ')');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() { log('Connection error'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        contentInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendChat();
            }
        });
    </script>
</body>
</html>`
