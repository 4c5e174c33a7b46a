package weave

import (
	"errors"
	"fmt"
	"sort"
)

// Outcome результат применения одного атома в Merge
type Outcome int

const (
	// OutcomeApplied атом добавлен в weave
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate атом уже присутствовал: no-op
	OutcomeDuplicate
	// OutcomeDeferred атом ждет недостающего родителя в буфере
	OutcomeDeferred
	// OutcomeRejected атом отклонен (Err содержит причину)
	OutcomeRejected
)

// String возвращает название исхода
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// AtomResult исход для конкретного атома
type AtomResult struct {
	Err     error
	ID      AtomID
	Outcome Outcome
}

// MergeResult перечисляет исход каждого атома вызова Merge.
// Атомы из буфера предыдущих вызовов, которые применились или исчерпали бюджет,
// также попадают в Results.
type MergeResult struct {
	Results []AtomResult
	Applied []Atom // в порядке применения
}

// Count возвращает количество атомов с указанным исходом
func (r *MergeResult) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Deferred возвращает идентификаторы атомов, оставшихся в буфере
func (r *MergeResult) Deferred() []AtomID {
	var ids []AtomID
	for _, res := range r.Results {
		if res.Outcome == OutcomeDeferred {
			ids = append(ids, res.ID)
		}
	}
	return ids
}

// Rejected возвращает отклоненные атомы с причинами
func (r *MergeResult) Rejected() []AtomResult {
	var rejected []AtomResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeRejected {
			rejected = append(rejected, res)
		}
	}
	return rejected
}

// Merge применяет атомы удаленного пира в переданном порядке.
//
// Атом, чей родитель (или предыдущий по Seq атом того же узла) отсутствует, буферизуется
// и применяется, как только причины появятся: в этом же вызове или в одном из
// следующих. Повторное применение уже известного атома: no-op.
// Невалидные атомы отклоняются по одному, не мешая остальным.
// На каждый входящий атом в Results ровно один итоговый исход.
func (w *Weave) Merge(atoms []Atom) *MergeResult {
	return w.merge(atoms, w.budget)
}

func (w *Weave) merge(atoms []Atom, budget int) *MergeResult {
	res := &MergeResult{}

	// позиции в res.Results входящих атомов, исход которых еще может измениться
	open := make(map[AtomID][]int)

	waiting := w.drain(w.pending, res, open)
	w.pending = nil

	for _, incoming := range atoms {
		atom := incoming.Clone()

		if isWaiting(waiting, atom.ID) {
			open[atom.ID] = append(open[atom.ID], len(res.Results))
			res.Results = append(res.Results, AtomResult{ID: atom.ID, Outcome: OutcomeDeferred})
			continue
		}

		err := w.check(atom)
		switch {
		case err == nil:
			w.insert(atom)
			res.Results = append(res.Results, AtomResult{ID: atom.ID, Outcome: OutcomeApplied})
			res.Applied = append(res.Applied, atom.Clone())
			waiting = w.drain(waiting, res, open)
		case errors.Is(err, errDuplicate):
			res.Results = append(res.Results, AtomResult{ID: atom.ID, Outcome: OutcomeDuplicate})
		case errors.Is(err, errMissingCause), errors.Is(err, errSeqGap):
			open[atom.ID] = append(open[atom.ID], len(res.Results))
			res.Results = append(res.Results, AtomResult{ID: atom.ID, Outcome: OutcomeDeferred})
			waiting = append(waiting, pendingAtom{atom: atom, budget: budget + 1})
		default:
			w.reject(atom, err)
			res.Results = append(res.Results, AtomResult{ID: atom.ID, Outcome: OutcomeRejected, Err: err})
			// пропуск номера мог освободить атомы этого узла в буфере
			waiting = w.drain(waiting, res, open)
		}
	}

	w.pending = w.expire(waiting, res, open)
	return res
}

// drain применяет атомы из буфера, чьи причины появились. Повторяет до неподвижной точки.
func (w *Weave) drain(waiting []pendingAtom, res *MergeResult, open map[AtomID][]int) []pendingAtom {
	for progress := true; progress; {
		progress = false
		rest := waiting[:0]

		for _, p := range waiting {
			err := w.check(p.atom)
			if errors.Is(err, errMissingCause) || errors.Is(err, errSeqGap) {
				rest = append(rest, p)
				continue
			}

			progress = true
			r := AtomResult{ID: p.atom.ID, Outcome: OutcomeApplied}
			switch {
			case err == nil:
				w.insert(p.atom)
				res.Applied = append(res.Applied, p.atom.Clone())
			case errors.Is(err, errDuplicate):
				r.Outcome = OutcomeDuplicate
			default:
				w.reject(p.atom, err)
				r.Outcome = OutcomeRejected
				r.Err = err
			}
			settle(res, open, r)
		}

		waiting = rest
	}

	return waiting
}

// expire уменьшает бюджет атомов в буфере. Атом с исчерпанным бюджетом, чей родитель
// уже есть, вставляется поверх пропущенных номеров своего узла: пир, приславший его,
// предыдущих атомов не имеет. Остальные отклоняются с ErrUnknownParent.
func (w *Weave) expire(waiting []pendingAtom, res *MergeResult, open map[AtomID][]int) []pendingAtom {
	var expired []pendingAtom
	kept := waiting[:0]
	for _, p := range waiting {
		p.budget--
		if p.budget > 0 {
			kept = append(kept, p)
			continue
		}
		expired = append(expired, p)
	}

	// меньшие номера первыми: вставка закрывает только пропуски перед атомом
	sort.Slice(expired, func(i, j int) bool {
		a, b := expired[i].atom.ID, expired[j].atom.ID
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		return a.Seq < b.Seq
	})

	for progress := true; progress; {
		progress = false
		rest := make([]pendingAtom, 0, len(expired))

		for _, p := range expired {
			if err := w.check(p.atom); err != nil && !errors.Is(err, errSeqGap) {
				rest = append(rest, p)
				continue
			}
			w.insert(p.atom)
			res.Applied = append(res.Applied, p.atom.Clone())
			settle(res, open, AtomResult{ID: p.atom.ID, Outcome: OutcomeApplied})
			progress = true
		}

		expired = rest
		if progress {
			kept = w.drain(kept, res, open)
			expired = w.drain(expired, res, open)
		}
	}

	for _, p := range expired {
		settle(res, open, AtomResult{
			ID:      p.atom.ID,
			Outcome: OutcomeRejected,
			Err:     fmt.Errorf("%w: %s", ErrUnknownParent, missingCause(w, p.atom)),
		})
	}

	return kept
}

// settle записывает окончательный исход атома на место его отложенных результатов.
// Атом из буфера прошлых вызовов получает новый результат в конце.
func settle(res *MergeResult, open map[AtomID][]int, r AtomResult) {
	idx, ok := open[r.ID]
	if !ok {
		res.Results = append(res.Results, r)
		return
	}
	for _, i := range idx {
		res.Results[i] = r
	}
	delete(open, r.ID)
}

// reject освобождает номер атома, отклоненного по содержимому: любой пир отклонит
// его так же, и следующие атомы узла не должны его ждать.
func (w *Weave) reject(atom Atom, err error) {
	if atom.ID.Seq == 0 || errors.Is(err, errSeqUsed) {
		return
	}
	w.siteLog(atom.ID.Site).skip(atom.ID.Seq)
}

// Skip помечает номера атомов как пропуски, например для атомов, которые
// авторизатор не допустил до слияния. Уже вставленные атомы не затрагиваются,
// такие же атомы в буфере отбрасываются.
func (w *Weave) Skip(ids []AtomID) {
	if len(ids) == 0 {
		return
	}

	skipped := make(map[AtomID]struct{}, len(ids))
	for _, id := range ids {
		if id.Seq == 0 || w.Contains(id) {
			continue
		}
		w.siteLog(id.Site).skip(id.Seq)
		skipped[id] = struct{}{}
	}

	kept := w.pending[:0]
	for _, p := range w.pending {
		if _, ok := skipped[p.atom.ID]; !ok {
			kept = append(kept, p)
		}
	}
	w.pending = kept
}

// check классифицирует атом: nil: можно вставлять, errDuplicate, errMissingCause,
// errSeqGap или ошибка ErrInvalidPayload.
func (w *Weave) check(atom Atom) error {
	id := atom.ID
	if id.Seq == 0 || id.Timestamp == 0 {
		return fmt.Errorf("%w: malformed atom id %s", ErrInvalidPayload, id)
	}
	if id.Timestamp > MaxTimestamp {
		return fmt.Errorf("%w: timestamp of %s exceeds %d", ErrInvalidPayload, id, MaxTimestamp)
	}

	if err := w.checkPayload(atom.Parent, atom.Payload); err != nil {
		return err
	}

	if _, ok := w.nodes[id]; ok {
		return errDuplicate
	}

	log := w.sites[id.Site]
	if log.used(id.Seq) {
		return fmt.Errorf("%w: %w: %s", ErrInvalidPayload, errSeqUsed, id)
	}
	if log.lastTimestamp() >= id.Timestamp {
		return fmt.Errorf("%w: atom %s is not newer than previous atom of site %d", ErrInvalidPayload, id, id.Site)
	}

	if atom.Parent != nil {
		if atom.Parent.Timestamp >= id.Timestamp {
			return fmt.Errorf("%w: atom %s is not newer than its parent %s", ErrInvalidPayload, id, atom.Parent)
		}
		if _, ok := w.nodes[*atom.Parent]; !ok {
			return errMissingCause
		}
	}

	if id.Seq > log.nextSeq() {
		return errSeqGap
	}

	return nil
}

func isWaiting(waiting []pendingAtom, id AtomID) bool {
	for _, p := range waiting {
		if p.atom.ID == id {
			return true
		}
	}
	return false
}

func missingCause(w *Weave, atom Atom) string {
	if atom.Parent != nil && !w.Contains(*atom.Parent) {
		return fmt.Sprintf("parent %s of %s", atom.Parent, atom.ID)
	}
	return fmt.Sprintf("predecessor #%d of %s", atom.ID.Seq-1, atom.ID)
}
