package models

import (
	"sort"
	"strings"
	"time"
)

type User struct {
	Name      string    `json:"name" bson:"_id"`
	Secret    string    `json:"-" bson:"secret"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type Chat struct {
	ID           string    `json:"id" bson:"_id"`
	Participants []string  `json:"participants" bson:"participants"`
	IsGroup      bool      `json:"isGroup" bson:"isGroup"`
	Name         string    `json:"name,omitempty" bson:"name,omitempty"`
	Admin        string    `json:"admin,omitempty" bson:"admin,omitempty"`
	LastMessage  string    `json:"lastMessage" bson:"lastMessage"`
	PairKey      string    `json:"-" bson:"pairKey,omitempty"`
	MessageSeq   int64     `json:"-" bson:"messageSeq"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

// HasParticipant reports whether name is one of the chat's participants.
func (c *Chat) HasParticipant(name string) bool {
	for _, p := range c.Participants {
		if p == name {
			return true
		}
	}
	return false
}

// Peer returns the other participant of a direct chat, or "" for groups.
func (c *Chat) Peer(name string) string {
	if c.IsGroup || len(c.Participants) != 2 {
		return ""
	}
	if c.Participants[0] == name {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// ChatSummary is a chat as seen from one user's chat list.
type ChatSummary struct {
	Chat
	Unread int `json:"unread"`
}

type Message struct {
	ID                 string    `json:"id" bson:"_id"`
	ChatID             string    `json:"chatId" bson:"chatId"`
	Seq                int64     `json:"seq" bson:"seq"`
	Sender             string    `json:"sender" bson:"sender"`
	Receiver           string    `json:"receiver,omitempty" bson:"receiver,omitempty"`
	Text               string    `json:"text" bson:"text"`
	Voice              string    `json:"voice,omitempty" bson:"voice,omitempty"`
	Seen               bool      `json:"seen" bson:"seen"`
	DeletedForEveryone bool      `json:"deletedForEveryone" bson:"deletedForEveryone"`
	CreatedAt          time.Time `json:"createdAt" bson:"createdAt"`
}

// pairSep cannot appear in a user name: names with control characters are rejected at login.
const pairSep = "\x1f"

// PairKey is the order-independent identity of a direct chat between a and b.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, pairSep)
}
