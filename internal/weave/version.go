package weave

// Version векторные часы weave: для каждого узла: максимальный timestamp,
// полученный от этого узла. Значение для узла никогда не уменьшается.
type Version map[SiteID]Timestamp

// Ordering результат сравнения двух версий
type Ordering int

const (
	// Equal версии совпадают
	Equal Ordering = iota
	// Before версия строго предшествует другой
	Before
	// After версия строго новее другой
	After
	// Concurrent версии несравнимы
	Concurrent
)

// Clone возвращает копию версии
func (v Version) Clone() Version {
	c := make(Version, len(v))
	for site, ts := range v {
		c[site] = ts
	}
	return c
}

// Get возвращает timestamp узла (0 если узел не встречался)
func (v Version) Get(site SiteID) Timestamp {
	return v[site]
}

// Observe поднимает значение для узла до ts. Возвращает true, если версия изменилась.
func (v Version) Observe(site SiteID, ts Timestamp) bool {
	if ts > v[site] {
		v[site] = ts
		return true
	}
	return false
}

// Merge объединяет версии поэлементным максимумом
func (v Version) Merge(other Version) {
	for site, ts := range other {
		v.Observe(site, ts)
	}
}

// Covers сообщает, отражен ли атом с данным идентификатором в версии.
func (v Version) Covers(id AtomID) bool {
	return id.Timestamp <= v[id.Site]
}

// Compare сравнивает две версии как векторные часы
func (v Version) Compare(other Version) Ordering {
	less, greater := false, false

	for site, ts := range v {
		switch o := other[site]; {
		case ts > o:
			greater = true
		case ts < o:
			less = true
		}
	}
	for site, o := range other {
		if _, ok := v[site]; !ok && o > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return Concurrent
	case less:
		return Before
	case greater:
		return After
	default:
		return Equal
	}
}

// SiteVersionInfo единица обмена при согласовании.
// Site == nil означает пира, которому еще не выдан идентификатор.
type SiteVersionInfo struct {
	Site    *SiteID `json:"site"`
	Version Version `json:"version"`
}

// HasSite сообщает, что пир уже получил идентификатор узла
func (i SiteVersionInfo) HasSite() bool {
	return i.Site != nil
}
