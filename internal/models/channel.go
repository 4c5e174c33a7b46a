package models

import "fmt"

// ChannelInfo идентифицирует канал: тип (ключ в реестре хранилищ) и имя
type ChannelInfo struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Key возвращает ключ канала "type/id", используемый в хранилищах и правилах доступа
func (c ChannelInfo) Key() string {
	return fmt.Sprintf("%s/%s", c.Type, c.ID)
}

// String реализует fmt.Stringer
func (c ChannelInfo) String() string {
	return c.Key()
}
