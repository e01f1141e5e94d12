package chatbot

import (
	"net/url"
)

const sessionParam = "session"

// SessionLocation rewrites the session parameter of location to match id,
// removing it when id is empty. Other parts of the address are kept.
func SessionLocation(location, id string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	q := u.Query()
	if id == "" {
		q.Del(sessionParam)
	} else {
		q.Set(sessionParam, id)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SessionFromLocation returns the session parameter of location, or "".
func SessionFromLocation(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Query().Get(sessionParam)
}

// ShareLink returns a link that resumes the active session. Without a saved
// session the user is alerted and "" is returned.
func (cb *ChatBot) ShareLink() string {
	if cb.identity.Current() == "" {
		cb.alerter.Alert("Start a chat to share.")
		return ""
	}
	return cb.Location()
}
