// Package testhelpers provides common utilities for tests that drive the
// GoChat server over real HTTP and WebSocket connections.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-live/internal/realtime"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// DefaultWait bounds every blocking read in these helpers.
const DefaultWait = 2 * time.Second

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL, token string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// ConnectWebSocket dials url with the test Origin header. The handshake
// response is returned so callers can inspect rejected upgrades.
func ConnectWebSocket(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials the server as the holder of token, waits for the
// connection_established greeting and closes the socket at test end.
func MustConnect(t *testing.T, serverURL, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(WebSocketURL(serverURL, token))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ReadUntilType(t, conn, realtime.TypeConnectionEstablished)
	return conn
}

// SendEnvelope writes one {type, payload} frame.
func SendEnvelope(t *testing.T, conn *websocket.Conn, typ realtime.MessageType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(realtime.Envelope{Type: typ, Payload: raw}))
}

// ReadEnvelope reads the next frame, failing the test after DefaultWait.
func ReadEnvelope(t *testing.T, conn *websocket.Conn) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultWait)))
	var env realtime.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// ReadUntilType skips frames until one of type typ arrives.
func ReadUntilType(t *testing.T, conn *websocket.Conn, typ realtime.MessageType) realtime.Envelope {
	t.Helper()
	deadline := time.Now().Add(DefaultWait)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env realtime.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", typ)
		if env.Type == typ {
			return env
		}
	}
}

// ExpectNoType fails if a frame of type typ arrives within wait. Other frames
// are discarded. The read deadline it hits leaves conn unusable for further
// reads, so call it last.
func ExpectNoType(t *testing.T, conn *websocket.Conn, typ realtime.MessageType, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			var netErr interface{ Timeout() bool }
			require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected read error: %v", err)
			return
		}
		require.NotEqual(t, typ, env.Type, "unexpected %s frame: %s", typ, env.Payload)
	}
}

// DecodePayload unmarshals an envelope payload into T.
func DecodePayload[T any](t *testing.T, env realtime.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

// ReadCloseError reads until the server closes the socket and returns the
// close frame it sent.
func ReadCloseError(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultWait)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		return closeErr
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// DoJSON performs an HTTP request with an optional bearer token and JSON
// body, returning the status code and raw response body.
func DoJSON(t *testing.T, method, url, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	require.NotNil(t, resp)
	require.Equal(t, expected, resp.StatusCode)
}
