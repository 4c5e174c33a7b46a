package models

import "time"

// Device представляет подключенное устройство (пира).
// Используется только как вход для решений авторизации и не реплицируется.
type Device struct {
	CreatedAt   time.Time `json:"created_at"`   // время регистрации (выпуска токена)
	ConnectedAt time.Time `json:"connected_at"` // время подключения
	ID          string    `json:"id"`           // идентификатор устройства из токена
	Name        string    `json:"name"`         // человекочитаемое имя устройства
	RemoteAddr  string    `json:"remote_addr"`  // адрес, с которого пришел запрос
}

// Grant правило доступа устройства к каналам.
// Pattern: glob по ключу канала ("type/id"), например "list/*".
type Grant struct {
	CreatedAt time.Time `json:"created_at"`
	DeviceID  string    `json:"device_id"`
	Pattern   string    `json:"pattern"`
	Load      bool      `json:"load"`   // разрешено загружать канал
	Access    bool      `json:"access"` // разрешено открывать поток репликации
	Write     bool      `json:"write"`  // разрешено отправлять события
}
