package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Credentials authenticate against the router's login endpoint.
type Credentials struct {
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
}

// Client is one device reported by the router's LAN device list.
// Identity is the device name.
type Client struct {
	Name   string `json:"name" example:"PhoneA"`
	Active bool   `json:"active" example:"true"`
}

// UnmarshalJSON accepts the router's wire form, where "active" is the
// string "1" or "0", as well as plain booleans and numbers.
func (c *Client) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name   string          `json:"name"`
		Active json.RawMessage `json:"active"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	active, err := parseActive(raw.Active)
	if err != nil {
		return fmt.Errorf("client %q: %w", raw.Name, err)
	}
	c.Name = raw.Name
	c.Active = active
	return nil
}

func parseActive(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return false, err
		}
		switch s {
		case "", "0", "false":
			return false, nil
		case "1", "true":
			return true, nil
		}
		return false, fmt.Errorf("invalid active value %q", s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return false, err
		}
		return b, nil
	default:
		n, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return false, fmt.Errorf("invalid active value %s", raw)
		}
		return n != 0, nil
	}
}

// Snapshot is the device list captured by one successful poll.
// A published snapshot is never mutated.
type Snapshot struct {
	Seq     uint64    `json:"seq" example:"12"`
	TakenAt time.Time `json:"taken_at"`
	Clients []Client  `json:"clients"`
}

// NewSnapshot builds a snapshot from the raw device list. Duplicate names
// keep the position of their first occurrence and the value of the last.
func NewSnapshot(seq uint64, takenAt time.Time, devices []Client) Snapshot {
	clients := make([]Client, 0, len(devices))
	index := make(map[string]int, len(devices))
	for _, d := range devices {
		if i, ok := index[d.Name]; ok {
			clients[i] = d
			continue
		}
		index[d.Name] = len(clients)
		clients = append(clients, d)
	}
	return Snapshot{Seq: seq, TakenAt: takenAt, Clients: clients}
}

// Lookup returns the client with the given name.
func (s Snapshot) Lookup(name string) (Client, bool) {
	for _, c := range s.Clients {
		if c.Name == name {
			return c, true
		}
	}
	return Client{}, false
}
