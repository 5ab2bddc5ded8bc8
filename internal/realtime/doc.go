// Package realtime implements the live-connection side of the chat server.
//
// A Hub admits authenticated WebSocket connections, keeps at most one
// registered connection per user, tracks presence, heartbeats every socket
// and fans out messages, typing indicators, read receipts and presence
// changes to the participants of a chat. Persistence and authentication are
// collaborators: the hub only asks a ParticipantLookup who belongs to a chat
// and exposes Notify methods the domain layer calls after it has written.
package realtime
