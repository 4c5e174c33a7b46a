package weave

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// DefaultRetryBudget количество последующих вызовов Merge, в течение которых
// атом с отсутствующим родителем ждет в буфере.
const DefaultRetryBudget = 3

// Validator проверяет payload атома с учетом его родителя.
// Возвращенная ошибка означает ErrInvalidPayload.
type Validator func(parent *AtomID, payload Payload) error

// node узел причинного дерева
type node struct {
	children []AtomID // отсортированы по AtomID.Before
	atom     Atom
}

// siteLog учет номеров атомов одного узла.
// Номер считается использованным, если атом с ним вошел в weave или был пропущен.
type siteLog struct {
	dead map[uint64]struct{} // пропущенные номера впереди next
	next uint64              // наименьший еще не использованный Seq
	last Timestamp           // timestamp атома с наибольшим Seq
}

func (l *siteLog) nextSeq() uint64 {
	if l == nil {
		return 1
	}
	return l.next
}

func (l *siteLog) lastTimestamp() Timestamp {
	if l == nil {
		return 0
	}
	return l.last
}

func (l *siteLog) used(seq uint64) bool {
	if l == nil {
		return false
	}
	if seq < l.next {
		return true
	}
	_, ok := l.dead[seq]
	return ok
}

// skip помечает номер как пропуск: атом с этим номером уже не войдет в weave
func (l *siteLog) skip(seq uint64) {
	switch {
	case seq < l.next:
	case seq == l.next:
		l.next++
		l.advance()
	default:
		if l.dead == nil {
			l.dead = make(map[uint64]struct{})
		}
		l.dead[seq] = struct{}{}
	}
}

// take занимает номер атомом; все меньшие номера считаются использованными
func (l *siteLog) take(seq uint64, ts Timestamp) {
	for d := range l.dead {
		if d < seq {
			delete(l.dead, d)
		}
	}
	l.next = seq + 1
	l.last = ts
	l.advance()
}

func (l *siteLog) advance() {
	for {
		if _, ok := l.dead[l.next]; !ok {
			return
		}
		delete(l.dead, l.next)
		l.next++
	}
}

// pendingAtom атом, ожидающий появления своих причин
type pendingAtom struct {
	atom   Atom
	budget int
}

// Weave причинное дерево атомов в каноническом порядке обхода в глубину.
//
// Weave не потокобезопасен: доступ сериализует владелец (channel.Channel).
type Weave struct {
	nodes    map[AtomID]*node
	sites    map[SiteID]*siteLog
	version  Version
	validate Validator
	clock    *Clock
	pos      map[AtomID]int
	roots    []AtomID
	pending  []pendingAtom
	order    []AtomID
	budget   int
	site     SiteID
	hasSite  bool
	dirty    bool
}

// Option настраивает Weave
type Option func(*Weave)

// WithSite задает идентификатор локального узла
func WithSite(site SiteID) Option {
	return func(w *Weave) {
		w.site = site
		w.hasSite = true
	}
}

// WithValidator задает проверку payload, специфичную для типа канала
func WithValidator(v Validator) Option {
	return func(w *Weave) {
		w.validate = v
	}
}

// WithRetryBudget задает, сколько последующих Merge атом может ждать недостающих причин.
// 0 означает, что ожидание заканчивается в конце того же вызова Merge.
func WithRetryBudget(n int) Option {
	return func(w *Weave) {
		if n >= 0 {
			w.budget = n
		}
	}
}

// New создает пустой weave
func New(opts ...Option) *Weave {
	w := &Weave{
		nodes:   make(map[AtomID]*node),
		sites:   make(map[SiteID]*siteLog),
		version: make(Version),
		clock:   NewClock(),
		budget:  DefaultRetryBudget,
		dirty:   true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Site возвращает идентификатор локального узла
func (w *Weave) Site() (SiteID, bool) {
	return w.site, w.hasSite
}

// SetSite назначает идентификатор локального узла (после handshake).
// Повторное назначение того же значения допустимо.
func (w *Weave) SetSite(site SiteID) error {
	if w.hasSite && w.site != site {
		return fmt.Errorf("%w: have %d, got %d", ErrSiteAlreadySet, w.site, site)
	}
	w.site = site
	w.hasSite = true
	return nil
}

// Append создает новый локальный атом с родителем parent (nil: корневой атом).
func (w *Weave) Append(parent *AtomID, payload Payload) (Atom, error) {
	if !w.hasSite {
		return Atom{}, ErrNoSite
	}

	if err := w.checkPayload(parent, payload); err != nil {
		return Atom{}, err
	}

	if parent != nil {
		if _, ok := w.nodes[*parent]; !ok {
			return Atom{}, fmt.Errorf("%w: %s", ErrUnknownParent, parent)
		}
	}

	ts, err := w.clock.Tick()
	if err != nil {
		return Atom{}, err
	}

	atom := Atom{
		ID: AtomID{
			Site:      w.site,
			Timestamp: ts,
			Seq:       w.sites[w.site].nextSeq(),
		},
		Parent:  cloneID(parent),
		Payload: payload.Clone(),
	}

	w.insert(atom)

	return atom.Clone(), nil
}

// DiffSince возвращает все атомы, не отраженные в версии v, в причинном порядке
// (родители раньше детей). Результат можно сразу передать в Merge у запросившего пира.
func (w *Weave) DiffSince(v Version) []Atom {
	result := make([]Atom, 0)
	for _, n := range w.nodes {
		if !v.Covers(n.atom.ID) {
			result = append(result, n.atom.Clone())
		}
	}

	// Родитель всегда старше ребенка, предыдущий атом узла старше следующего,
	// поэтому сортировка по (Timestamp, Site) дает причинный порядок.
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].ID, result[j].ID
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.Site < b.Site
	})

	return result
}

// Version возвращает копию текущих векторных часов
func (w *Weave) Version() Version {
	return w.version.Clone()
}

// Info возвращает SiteVersionInfo локального узла
func (w *Weave) Info() SiteVersionInfo {
	info := SiteVersionInfo{Version: w.Version()}
	if w.hasSite {
		site := w.site
		info.Site = &site
	}
	return info
}

// Len возвращает количество атомов в weave (без буфера ожидания)
func (w *Weave) Len() int {
	return len(w.nodes)
}

// Contains проверяет наличие атома
func (w *Weave) Contains(id AtomID) bool {
	_, ok := w.nodes[id]
	return ok
}

// Get возвращает атом по идентификатору
func (w *Weave) Get(id AtomID) (Atom, bool) {
	n, ok := w.nodes[id]
	if !ok {
		return Atom{}, false
	}
	return n.atom.Clone(), true
}

// Atoms возвращает все атомы в каноническом порядке
func (w *Weave) Atoms() []Atom {
	order := w.canonical()
	result := make([]Atom, 0, len(order))
	for _, id := range order {
		result = append(result, w.nodes[id].atom.Clone())
	}
	return result
}

// Position возвращает индекс атома в каноническом порядке
func (w *Weave) Position(id AtomID) (int, bool) {
	w.canonical()
	p, ok := w.pos[id]
	return p, ok
}

// Pending возвращает атомы, ожидающие недостающих причин.
// Они не видны в DiffSince, Version и Atoms.
func (w *Weave) Pending() []Atom {
	result := make([]Atom, 0, len(w.pending))
	for _, p := range w.pending {
		result = append(result, p.atom.Clone())
	}
	return result
}

// Fingerprint возвращает BLAKE2b-256 хеш канонической последовательности атомов.
// Два weave с одинаковым набором атомов имеют одинаковый fingerprint.
func (w *Weave) Fingerprint() string {
	h, _ := blake2b.New256(nil)
	enc := json.NewEncoder(h)
	for _, id := range w.canonical() {
		// Encode в hash.Hash не возвращает ошибок записи
		_ = enc.Encode(w.nodes[id].atom)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Load восстанавливает weave из сохраненных атомов.
// Пропуски номеров допустимы (атомы, отклоненные до сохранения), а любой атом,
// который не удалось применить, считается повреждением хранилища.
func (w *Weave) Load(atoms []Atom) error {
	res := w.merge(atoms, 0)
	for _, r := range res.Results {
		if r.Outcome == OutcomeDeferred || r.Outcome == OutcomeRejected {
			w.pending = nil
			return fmt.Errorf("failed to load atom %s: %s: %w", r.ID, r.Outcome, r.Err)
		}
	}
	return nil
}

func (w *Weave) checkPayload(parent *AtomID, p Payload) error {
	if p.Kind == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidPayload)
	}
	if len(p.Data) > 0 && !json.Valid(p.Data) {
		return fmt.Errorf("%w: data is not valid JSON", ErrInvalidPayload)
	}
	if w.validate != nil {
		if err := w.validate(parent, p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return nil
}

// insert добавляет атом, чьи причины уже присутствуют
func (w *Weave) insert(atom Atom) {
	w.nodes[atom.ID] = &node{atom: atom}

	if atom.Parent == nil {
		w.roots = insertSibling(w.roots, atom.ID)
	} else {
		parent := w.nodes[*atom.Parent]
		parent.children = insertSibling(parent.children, atom.ID)
	}

	w.siteLog(atom.ID.Site).take(atom.ID.Seq, atom.ID.Timestamp)
	w.version.Observe(atom.ID.Site, atom.ID.Timestamp)
	w.clock.Observe(atom.ID.Timestamp)
	w.dirty = true
}

func (w *Weave) siteLog(site SiteID) *siteLog {
	l, ok := w.sites[site]
	if !ok {
		l = &siteLog{next: 1}
		w.sites[site] = l
	}
	return l
}

func insertSibling(siblings []AtomID, id AtomID) []AtomID {
	i := sort.Search(len(siblings), func(i int) bool {
		return id.Before(siblings[i])
	})
	return slices.Insert(siblings, i, id)
}

// canonical возвращает (и кэширует) порядок обхода дерева в глубину
func (w *Weave) canonical() []AtomID {
	if !w.dirty {
		return w.order
	}

	order := make([]AtomID, 0, len(w.nodes))
	pos := make(map[AtomID]int, len(w.nodes))

	stack := make([]AtomID, 0, len(w.roots))
	for i := len(w.roots) - 1; i >= 0; i-- {
		stack = append(stack, w.roots[i])
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		pos[id] = len(order)
		order = append(order, id)

		children := w.nodes[id].children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	w.order = order
	w.pos = pos
	w.dirty = false
	return order
}
