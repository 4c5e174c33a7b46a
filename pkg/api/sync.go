package api

import "encoding/json"

// AtomID идентификатор атома на проводе
type AtomID struct {
	Site      uint32 `json:"site"`
	Timestamp uint64 `json:"ts"`
	Seq       uint64 `json:"seq"`
}

// Atom атом на проводе
type Atom struct {
	Parent *AtomID         `json:"parent,omitempty"`
	Kind   string          `json:"kind"`
	Data   json.RawMessage `json:"data,omitempty"`
	ID     AtomID          `json:"id"`
}

// Version векторные часы: site → максимальный timestamp
type Version map[uint32]uint64

// AtomResult исход слияния одного атома
type AtomResult struct {
	Outcome string `json:"outcome"`         // applied, duplicate, deferred, rejected
	Error   string `json:"error,omitempty"` // причина для rejected
	ID      AtomID `json:"id"`
}

// SyncRequest запрос синхронизации от клиента
type SyncRequest struct {
	Site    *uint32 `json:"site,omitempty"` // nil: клиенту еще не выдан узел
	Version Version `json:"version"`        // версия реплики клиента
	Atoms   []Atom  `json:"atoms"`          // атомы, которых нет на сервере
}

// SyncResponse ответ сервера на синхронизацию
type SyncResponse struct {
	Version Version      `json:"version"` // версия сервера после слияния
	Atoms   []Atom       `json:"atoms"`   // атомы, которых нет у клиента
	Results []AtomResult `json:"results"` // исходы атомов клиента
	Site    uint32       `json:"site"`    // узел клиента
}

// StateResponse проекция состояния канала
type StateResponse struct {
	State       any     `json:"state"`
	Version     Version `json:"version"`
	Channel     string  `json:"channel"`
	Fingerprint string  `json:"fingerprint"`
	Atoms       int     `json:"atoms"`
}

// ChannelRef ссылка на канал
type ChannelRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ChannelsResponse список доступных каналов
type ChannelsResponse struct {
	Channels []ChannelRef `json:"channels"`
}
