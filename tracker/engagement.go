package tracker

import (
	"strings"
	"sync"
	"time"
)

var clickableTags = map[string]bool{
	"A":        true,
	"BUTTON":   true,
	"INPUT":    true,
	"SELECT":   true,
	"TEXTAREA": true,
	"LABEL":    true,
	"DETAILS":  true,
	"SUMMARY":  true,
}

// Element est la vue minimale d'un noeud du DOM cliqué
type Element struct {
	Tag        string
	Attributes map[string]string
	// valeur calculée de la propriété css cursor
	Cursor string
	Parent *Element
}

func (e *Element) HasAttribute(name string) bool {
	_, ok := e.Attributes[name]
	return ok
}

func (e *Element) isBody() bool {
	return strings.EqualFold(e.Tag, "BODY")
}

// IsClickable remonte les ancêtres jusqu'au body exclu
func IsClickable(target *Element) bool {
	for el := target; el != nil && !el.isBody(); el = el.Parent {
		if clickableTags[strings.ToUpper(el.Tag)] || el.HasAttribute("role") || el.Cursor == "pointer" {
			return true
		}
	}
	return false
}

// Snapshot contient les compteurs cumulés depuis le chargement de la page
type Snapshot struct {
	TotalClicks     int64
	ClickableClicks int64
	DurationSeconds int64
	NewVisitor      bool
}

// Sub renvoie les compteurs de s moins ceux de o, NewVisitor reste celui de s
func (s Snapshot) Sub(o Snapshot) Snapshot {
	s.TotalClicks -= o.TotalClicks
	s.ClickableClicks -= o.ClickableClicks
	s.DurationSeconds -= o.DurationSeconds
	return s
}

func (s Snapshot) Add(o Snapshot) Snapshot {
	s.TotalClicks += o.TotalClicks
	s.ClickableClicks += o.ClickableClicks
	s.DurationSeconds += o.DurationSeconds
	return s
}

// Engagement accumule l'activité d'un chargement de page. Aucune E/S.
type Engagement struct {
	mu         sync.Mutex
	loadedAt   time.Time
	total      int64
	clickable  int64
	newVisitor bool
}

func NewEngagement(loadedAt time.Time) *Engagement {
	return &Engagement{loadedAt: loadedAt, newVisitor: true}
}

func (e *Engagement) RecordClick(target *Element) {
	clickable := IsClickable(target)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.total++
	if clickable {
		e.clickable++
	}
}

func (e *Engagement) SetNewVisitor(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newVisitor = v
}

func (e *Engagement) Snapshot(now time.Time) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	duration := int64(now.Sub(e.loadedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	return Snapshot{
		TotalClicks:     e.total,
		ClickableClicks: e.clickable,
		DurationSeconds: duration,
		NewVisitor:      e.newVisitor,
	}
}
