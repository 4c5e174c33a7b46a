package channel

import (
	"sort"
	"sync"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/internal/weave"
)

// Update уведомление подписчикам после каждого успешного изменения канала
type Update struct {
	State   any
	Version weave.Version
	Channel models.ChannelInfo
	Atoms   []weave.Atom // новые атомы в порядке применения
}

// Channel связывает один weave с проекцией состояния.
// Все изменения weave сериализованы мьютексом канала; разные каналы не конкурируют.
type Channel struct {
	store      Store
	weave      *weave.Weave
	subs       map[uint64]func(Update)
	notifyCond *sync.Cond
	typ        StoreType
	info       models.ChannelInfo
	nextSub    uint64
	published  uint64 // номер следующего изменения
	delivered  uint64 // номер изменения, чья очередь уведомлять
	mu         sync.Mutex
	subMu      sync.Mutex
	notifyMu   sync.Mutex
}

// New создает пустой канал заданного типа
func New(info models.ChannelInfo, typ StoreType, opts ...weave.Option) *Channel {
	weaveOpts := make([]weave.Option, 0, len(opts)+1)
	if typ.Validate != nil {
		weaveOpts = append(weaveOpts, weave.WithValidator(typ.Validate))
	}
	weaveOpts = append(weaveOpts, opts...)

	c := &Channel{
		info:  info,
		typ:   typ,
		weave: weave.New(weaveOpts...),
		store: typ.New(),
		subs:  make(map[uint64]func(Update)),
	}
	c.notifyCond = sync.NewCond(&c.notifyMu)
	return c
}

// Open находит тип канала в реестре и создает пустой канал
func Open(registry *Registry, info models.ChannelInfo, opts ...weave.Option) (*Channel, error) {
	typ, err := registry.Lookup(info.Type)
	if err != nil {
		return nil, err
	}
	return New(info, typ, opts...), nil
}

// Info возвращает идентификатор канала
func (c *Channel) Info() models.ChannelInfo {
	return c.info
}

// Append добавляет локальный атом и пересчитывает состояние
func (c *Channel) Append(parent *weave.AtomID, payload weave.Payload) (weave.Atom, error) {
	c.mu.Lock()
	atom, err := c.weave.Append(parent, payload)
	if err != nil {
		c.mu.Unlock()
		return weave.Atom{}, err
	}
	c.project([]weave.Atom{atom})
	c.publish([]weave.Atom{atom})

	return atom, nil
}

// Merge применяет атомы удаленного пира и пересчитывает состояние
func (c *Channel) Merge(atoms []weave.Atom) *weave.MergeResult {
	c.mu.Lock()
	res := c.weave.Merge(atoms)
	if len(res.Applied) == 0 {
		c.mu.Unlock()
		return res
	}
	c.project(res.Applied)
	c.publish(res.Applied)

	return res
}

// Load восстанавливает канал из сохраненных атомов без уведомления подписчиков
func (c *Channel) Load(atoms []weave.Atom) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.weave.Load(atoms); err != nil {
		return err
	}
	c.rebuild()
	return nil
}

// Skip помечает номера атомов, не допущенных до слияния, как пропуски weave
func (c *Channel) Skip(ids []weave.AtomID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.weave.Skip(ids)
}

// DiffSince возвращает атомы, не отраженные в версии v
func (c *Channel) DiffSince(v weave.Version) []weave.Atom {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weave.DiffSince(v)
}

// Version возвращает векторные часы канала
func (c *Channel) Version() weave.Version {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weave.Version()
}

// SiteInfo возвращает SiteVersionInfo локального узла канала
func (c *Channel) SiteInfo() weave.SiteVersionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weave.Info()
}

// SetSite назначает идентификатор локального узла
func (c *Channel) SetSite(site weave.SiteID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weave.SetSite(site)
}

// Atoms возвращает атомы в каноническом порядке
func (c *Channel) Atoms() []weave.Atom {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weave.Atoms()
}

// Len возвращает количество атомов
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weave.Len()
}

// Contains проверяет наличие атома
func (c *Channel) Contains(id weave.AtomID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weave.Contains(id)
}

// Fingerprint возвращает хеш канонического порядка атомов
func (c *Channel) Fingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weave.Fingerprint()
}

// State возвращает снимок проекции состояния
func (c *Channel) State() any {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.State()
}

// Rebuild пересобирает состояние из всего weave с пустого состояния и возвращает его
func (c *Channel) Rebuild() any {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rebuild()
	return c.store.State()
}

// Subscribe регистрирует обработчик изменений. Обработчик вызывается синхронно
// после снятия блокировки канала, в порядке изменений, и не должен изменять канал.
// Возвращает функцию отписки.
func (c *Channel) Subscribe(fn func(Update)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

// project применяет новые атомы к состоянию. Если все они оказались в конце
// канонического порядка, применяем инкрементально, иначе пересобираем с нуля.
func (c *Channel) project(applied []weave.Atom) {
	tail := c.weave.Len() - len(applied)

	type positioned struct {
		atom weave.Atom
		pos  int
	}
	ordered := make([]positioned, 0, len(applied))
	for _, atom := range applied {
		pos, _ := c.weave.Position(atom.ID)
		if pos < tail {
			c.rebuild()
			return
		}
		ordered = append(ordered, positioned{atom: atom, pos: pos})
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].pos < ordered[j].pos })
	for _, p := range ordered {
		c.store.Fold(p.atom)
	}
}

func (c *Channel) rebuild() {
	store := c.typ.New()
	for _, atom := range c.weave.Atoms() {
		store.Fold(atom)
	}
	c.store = store
}

// publish вызывается с захваченным c.mu: снимает его и уведомляет подписчиков.
// Уведомления доставляются строго в порядке изменений и без удержания c.mu.
func (c *Channel) publish(applied []weave.Atom) {
	update := Update{
		Channel: c.info,
		Atoms:   applied,
		Version: c.weave.Version(),
		State:   c.store.State(),
	}
	seq := c.published
	c.published++
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for c.delivered != seq {
		c.notifyCond.Wait()
	}
	// очередь передается следующему изменению, даже если обработчик паникует
	defer func() {
		c.delivered++
		c.notifyCond.Broadcast()
	}()

	c.subMu.Lock()
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]func(Update), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, c.subs[id])
	}
	c.subMu.Unlock()

	for _, fn := range handlers {
		fn(update)
	}
}
