// Package wire переводит атомы, версии и исходы слияния в DTO протокола pkg/api и обратно.
package wire

import (
	"errors"

	"github.com/iudanet/causaltree/internal/weave"
	"github.com/iudanet/causaltree/pkg/api"
)

// FromAtomID конвертирует идентификатор атома в DTO
func FromAtomID(id weave.AtomID) api.AtomID {
	return api.AtomID{Site: uint32(id.Site), Timestamp: uint64(id.Timestamp), Seq: id.Seq}
}

// ToAtomID конвертирует DTO в идентификатор атома
func ToAtomID(id api.AtomID) weave.AtomID {
	return weave.AtomID{Site: weave.SiteID(id.Site), Timestamp: weave.Timestamp(id.Timestamp), Seq: id.Seq}
}

// FromAtoms конвертирует атомы в DTO
func FromAtoms(atoms []weave.Atom) []api.Atom {
	out := make([]api.Atom, 0, len(atoms))
	for _, a := range atoms {
		dto := api.Atom{ID: FromAtomID(a.ID), Kind: a.Payload.Kind, Data: a.Payload.Data}
		if a.Parent != nil {
			parent := FromAtomID(*a.Parent)
			dto.Parent = &parent
		}
		out = append(out, dto)
	}
	return out
}

// ToAtoms конвертирует DTO в атомы
func ToAtoms(atoms []api.Atom) []weave.Atom {
	out := make([]weave.Atom, 0, len(atoms))
	for _, a := range atoms {
		atom := weave.Atom{ID: ToAtomID(a.ID), Payload: weave.Payload{Kind: a.Kind, Data: a.Data}}
		if a.Parent != nil {
			parent := ToAtomID(*a.Parent)
			atom.Parent = &parent
		}
		out = append(out, atom)
	}
	return out
}

// FromVersion конвертирует векторные часы в DTO
func FromVersion(v weave.Version) api.Version {
	out := make(api.Version, len(v))
	for site, ts := range v {
		out[uint32(site)] = uint64(ts)
	}
	return out
}

// ToVersion конвертирует DTO в векторные часы
func ToVersion(v api.Version) weave.Version {
	out := make(weave.Version, len(v))
	for site, ts := range v {
		out[weave.SiteID(site)] = weave.Timestamp(ts)
	}
	return out
}

// FromResults конвертирует исходы слияния в DTO
func FromResults(results []weave.AtomResult) []api.AtomResult {
	out := make([]api.AtomResult, 0, len(results))
	for _, r := range results {
		dto := api.AtomResult{ID: FromAtomID(r.ID), Outcome: r.Outcome.String()}
		if r.Err != nil {
			dto.Error = r.Err.Error()
		}
		out = append(out, dto)
	}
	return out
}

// ToResults конвертирует DTO в исходы слияния (ошибка восстанавливается только текстом)
func ToResults(results []api.AtomResult) []weave.AtomResult {
	out := make([]weave.AtomResult, 0, len(results))
	for _, r := range results {
		res := weave.AtomResult{ID: ToAtomID(r.ID), Outcome: parseOutcome(r.Outcome)}
		if r.Error != "" {
			res.Err = errors.New(r.Error)
		}
		out = append(out, res)
	}
	return out
}

func parseOutcome(s string) weave.Outcome {
	switch s {
	case weave.OutcomeApplied.String():
		return weave.OutcomeApplied
	case weave.OutcomeDuplicate.String():
		return weave.OutcomeDuplicate
	case weave.OutcomeDeferred.String():
		return weave.OutcomeDeferred
	default:
		return weave.OutcomeRejected
	}
}
