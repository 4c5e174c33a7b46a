// Package stores содержит типы каналов: проекции weave в состояние приложения.
package stores

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/causaltree/internal/channel"
	"github.com/iudanet/causaltree/internal/weave"
)

// Виды атомов, общие для всех типов каналов
const (
	KindDelete = "delete"
)

var errTombstoneWithoutTarget = errors.New("delete must reference a target atom")

// Types возвращает все встроенные типы каналов
func Types() []channel.StoreType {
	return []channel.StoreType{LWWMapType(), ListType()}
}

// Registry возвращает реестр со всеми встроенными типами каналов
func Registry() *channel.Registry {
	return channel.NewRegistry(Types()...)
}

// checkTombstone проверяет атом удаления: должен ссылаться на цель, данные пустые или объект
func checkTombstone(parent *weave.AtomID, p weave.Payload) error {
	if parent == nil {
		return errTombstoneWithoutTarget
	}
	if len(p.Data) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(p.Data, &obj); err != nil {
		return fmt.Errorf("delete data must be an object: %w", err)
	}
	return nil
}
