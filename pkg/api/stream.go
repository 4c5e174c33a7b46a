package api

import "encoding/json"

// Типы сообщений потокового протокола (WebSocket)
const (
	// от клиента
	FrameHello  = "hello"  // SiteVersionInfo клиента
	FrameAtoms  = "atoms"  // атомы клиента (и ответ сервера с атомами для клиента)
	FrameAppend = "append" // тонкий клиент: создать атом от имени сервера
	FrameAck    = "ack"    // подтверждение версии клиента

	// от сервера
	FrameWelcome = "welcome" // узел клиента и версия сервера
	FrameResult  = "result"  // исходы атомов клиента
	FrameError   = "error"
)

// Frame сообщение потокового протокола
type Frame struct {
	Site    *uint32         `json:"site,omitempty"`
	Parent  *AtomID         `json:"parent,omitempty"`
	Version Version         `json:"version,omitempty"`
	Type    string          `json:"type"`
	Kind    string          `json:"kind,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Atoms   []Atom          `json:"atoms,omitempty"`
	Results []AtomResult    `json:"results,omitempty"`
}
