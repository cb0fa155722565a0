// Package funnel maps CRM stage tags onto outbound conversion events.
package funnel

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/normalize"
)

// UnmappedPolicy says what to do with a CRM tag that has no table entry.
type UnmappedPolicy string

const (
	// UnmappedDrop discards the event as unroutable.
	UnmappedDrop UnmappedPolicy = "drop"
	// UnmappedPassthrough forwards the raw tag text as the event name.
	UnmappedPassthrough UnmappedPolicy = "passthrough"
)

// Stage is one step of the sales funnel.
type Stage struct {
	Tag     string // CRM tag, folded with normalize.FoldTag
	Event   string // outbound event name, also the watermark value
	Status  string // lead_status label sent with the event, optional
	Website bool   // reported with the website action source
	Entry   bool   // the stage that opens the funnel
}

// DefaultStages returns the stage table used when none is configured.
func DefaultStages() []Stage {
	return []Stage{
		{Tag: "NOVOS", Event: "Lead", Website: true},
		{Tag: "ATENDEU", Event: "Atendeu"},
		{Tag: "OPORTUNIDADE", Event: "Oportunidade", Status: "OPEN"},
		{Tag: "AVANCADO", Event: "Avançado"},
		{Tag: "VIDEO", Event: "Vídeo", Status: "QUALIFIED"},
		{Tag: "VENCEMOS", Event: "Vencemos", Status: "CONVERTED"},
		{Tag: "QUER EMPREGO", Event: "Desqualificado"},
		{Tag: "QUER EMPRESTIMO", Event: "Não Qualificado"},
	}
}

// DefaultEntryTag names the entry stage of DefaultStages.
const DefaultEntryTag = "NOVOS"

// Funnel is an immutable tag lookup table.
type Funnel struct {
	byTag  map[string]Stage
	entry  Stage
	policy UnmappedPolicy
}

// New builds a Funnel. entryTag selects the entry stage and must be present
// in stages. Tags are folded so lookups ignore case and accents.
func New(stages []Stage, entryTag string, policy UnmappedPolicy) (*Funnel, error) {
	if len(stages) == 0 {
		return nil, eris.New("funnel: no stages configured")
	}
	switch policy {
	case "":
		policy = UnmappedDrop
	case UnmappedDrop, UnmappedPassthrough:
	default:
		return nil, eris.Errorf("funnel: unknown unmapped policy %q", policy)
	}

	f := &Funnel{byTag: make(map[string]Stage, len(stages)), policy: policy}
	entryKey := normalize.FoldTag(entryTag)
	seenEvents := make(map[string]bool, len(stages))
	for _, s := range stages {
		key := normalize.FoldTag(s.Tag)
		event := strings.TrimSpace(s.Event)
		if key == "" || event == "" {
			return nil, eris.Errorf("funnel: stage %q needs a tag and an event", s.Tag)
		}
		if _, dup := f.byTag[key]; dup {
			return nil, eris.Errorf("funnel: duplicate tag %q", key)
		}
		if seenEvents[event] {
			return nil, eris.Errorf("funnel: duplicate event %q", event)
		}
		seenEvents[event] = true

		s.Tag = key
		s.Event = event
		s.Entry = key == entryKey
		f.byTag[key] = s
		if s.Entry {
			f.entry = s
		}
	}
	if f.entry.Tag == "" {
		return nil, eris.Errorf("funnel: entry tag %q is not in the stage table", entryTag)
	}
	return f, nil
}

// Default returns the funnel built from DefaultStages with the drop policy.
func Default() *Funnel {
	f, err := New(DefaultStages(), DefaultEntryTag, UnmappedDrop)
	if err != nil {
		panic(err)
	}
	return f
}

// Lookup resolves a raw CRM tag. With the passthrough policy an unknown tag
// becomes a non-entry, non-website stage named after the raw tag.
func (f *Funnel) Lookup(rawTag string) (Stage, bool) {
	key := normalize.FoldTag(rawTag)
	if key == "" {
		return Stage{}, false
	}
	if s, ok := f.byTag[key]; ok {
		return s, true
	}
	if f.policy == UnmappedPassthrough {
		return Stage{Tag: key, Event: strings.TrimSpace(rawTag)}, true
	}
	return Stage{}, false
}

// Entry returns the stage that opens the funnel.
func (f *Funnel) Entry() Stage {
	return f.entry
}

// Policy returns the unmapped-tag policy in effect.
func (f *Funnel) Policy() UnmappedPolicy {
	return f.policy
}

// Stages returns the table in no particular order.
func (f *Funnel) Stages() []Stage {
	out := make([]Stage, 0, len(f.byTag))
	for _, s := range f.byTag {
		out = append(out, s)
	}
	return out
}
