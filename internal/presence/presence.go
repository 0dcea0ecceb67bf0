// Package presence tracks who is connected to the room and where their
// cursors are, and assigns each user a stable colour.
package presence

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"
)

var palette = []string{
	"#0EA5E9",
	"#22C55E",
	"#A855F7",
	"#F59E0B",
	"#E11D48",
	"#14B8A6",
	"#6366F1",
	"#EC4899",
	"#F97316",
	"#2DD4BF",
	"#8B5CF6",
	"#F43F5E",
}

const (
	darkText  = "#0F172A"
	lightText = "#F8FAFC"
)

// ColorFor derives a palette colour from a user id. The same id always
// gets the same colour.
func ColorFor(userID string) string {
	if userID == "" {
		return palette[0]
	}
	var h int32
	for _, c := range utf16.Encode([]rune(userID)) {
		h = (h << 5) - h + int32(c)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return palette[n%int64(len(palette))]
}

// ContrastColor picks dark or light text for a #RRGGBB background.
func ContrastColor(hex string) string {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) < 6 {
		return lightText
	}
	channel := func(s string) float64 {
		v, err := strconv.ParseUint(s, 16, 8)
		if err != nil {
			return 0
		}
		return float64(v)
	}
	r, g, b := channel(hex[0:2]), channel(hex[2:4]), channel(hex[4:6])
	if (0.299*r+0.587*g+0.114*b)/255 > 0.6 {
		return darkText
	}
	return lightText
}

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Peer is one connection in the room.
type Peer struct {
	ConnID    string  `json:"connectionId"`
	UserID    string  `json:"userId"`
	Name      string  `json:"name,omitempty"`
	Color     string  `json:"color"`
	TextColor string  `json:"textColor"`
	Cursor    *Cursor `json:"cursor,omitempty"`
}

type Tracker struct {
	mu    sync.Mutex
	peers map[string]Peer
}

func NewTracker() *Tracker {
	return &Tracker{peers: make(map[string]Peer)}
}

func (t *Tracker) Join(connID, userID, name string) Peer {
	color := ColorFor(userID)
	p := Peer{
		ConnID:    connID,
		UserID:    userID,
		Name:      name,
		Color:     color,
		TextColor: ContrastColor(color),
	}
	t.mu.Lock()
	t.peers[connID] = p
	t.mu.Unlock()
	return p
}

// Move updates a connection's cursor; a nil cursor hides it. It reports
// false for unknown connections.
func (t *Tracker) Move(connID string, c *Cursor) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[connID]
	if !ok {
		return false
	}
	if c != nil {
		cur := *c
		c = &cur
	}
	p.Cursor = c
	t.peers[connID] = p
	return true
}

func (t *Tracker) Leave(connID string) {
	t.mu.Lock()
	delete(t.peers, connID)
	t.mu.Unlock()
}

// List returns every peer ordered by connection id.
func (t *Tracker) List() []Peer {
	t.mu.Lock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}
