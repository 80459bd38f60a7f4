// Package request defines the connection request entity, its lifecycle
// states, and the audit trail recorded for every transition.
package request

import (
	"strings"
	"time"
)

// Channel is how an invitation was issued.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelLink  Channel = "link"
	ChannelCode  Channel = "code"
)

// ParseChannel normalizes a channel name.
func ParseChannel(value string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelEmail:
		return ChannelEmail, true
	case ChannelLink:
		return ChannelLink, true
	case ChannelCode:
		return ChannelCode, true
	default:
		return "", false
	}
}

// IssuesToken reports whether the channel hands out a token secret.
func (c Channel) IssuesToken() bool {
	return c == ChannelEmail || c == ChannelLink
}

// SinglePending reports whether an initiator may hold at most one live
// pending request on the channel. Code requests are superseded instead.
func (c Channel) SinglePending() bool {
	return c == ChannelEmail || c == ChannelLink
}

// Status is the lifecycle state of a request. Once a request leaves pending
// it never changes status again.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status is a resolved state.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// ConnectionRequest is one invitation between an initiator and a future
// counterparty, regardless of the channel that issued it.
type ConnectionRequest struct {
	ID             string
	InitiatorID    string
	InitiatorEmail string
	InitiatorName  string
	Channel        Channel
	TargetEmail    string
	TokenHash      string
	ShortCode      string
	Status         Status
	CreatedAt      time.Time
	ExpiresAt      time.Time
	CounterpartyID string
	RoomID         string
	ResolvedAt     time.Time
}

// ExpiredAt reports whether the request window has lapsed at now.
func (r ConnectionRequest) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Participant reports whether accountID is the initiator or counterparty.
func (r ConnectionRequest) Participant(accountID string) bool {
	if accountID == "" {
		return false
	}
	return r.InitiatorID == accountID || r.CounterpartyID == accountID
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// NormalizeCode upper-cases and trims a short code.
func NormalizeCode(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
