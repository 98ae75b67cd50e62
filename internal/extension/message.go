// Package extension is the messaging channel between the background context
// and the tab contexts of the client: request/response for auth and tab
// actions, plus a fire-and-forget AUTH_CHANGED fan-out.
package extension

import "github.com/jun/secondbrain/internal/model"

// Kind names a message type.
type Kind string

const (
	CheckAuth   Kind = "CHECK_AUTH"
	Login       Kind = "LOGIN"
	Logout      Kind = "LOGOUT"
	OpenTab     Kind = "OPEN_TAB"
	AuthChanged Kind = "AUTH_CHANGED"
	Ping        Kind = "PING"
)

// Message is sent from a tab to the background, or broadcast to tabs.
type Message struct {
	Type Kind `json:"type"`
	// URL is set for LOGIN and OPEN_TAB.
	URL string `json:"url,omitempty"`
}

// Response answers a Message. CHECK_AUTH fills Authenticated and User; every
// other kind only reports Success.
type Response struct {
	Success       bool        `json:"success"`
	Authenticated bool        `json:"authenticated"`
	User          *model.User `json:"user,omitempty"`
	Error         string      `json:"error,omitempty"`
}
