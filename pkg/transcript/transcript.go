package transcript

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrEmptyContent = errors.New("transcript: user content is empty")
	ErrFrozen       = errors.New("transcript: turn is frozen")
)

// Transcript is an append-only, ordered list of turns. At most one assistant
// turn is open for mutation, and only through the Handle returned when it was
// appended. Transcript is not safe for concurrent use; the owner serializes access.
type Transcript struct {
	turns  []*Turn
	nextID uint64
	open   *Turn
}

func New() *Transcript {
	return &Transcript{}
}

func (t *Transcript) newID() string {
	t.nextID++
	return fmt.Sprintf("msg-%d", t.nextID)
}

// AppendUser appends a user turn with the given content and freezes any open turn.
func (t *Transcript) AppendUser(content string) (Turn, error) {
	if strings.TrimSpace(content) == "" {
		return Turn{}, ErrEmptyContent
	}
	t.open = nil
	turn := &Turn{ID: t.newID(), Role: RoleUser, Content: content}
	t.turns = append(t.turns, turn)
	return *turn, nil
}

// AppendAssistant appends an empty assistant turn and returns the handle that
// owns it. Any previously open turn is frozen.
func (t *Transcript) AppendAssistant() *Handle {
	turn := &Turn{ID: t.newID(), Role: RoleAssistant}
	t.turns = append(t.turns, turn)
	t.open = turn
	return &Handle{t: t, turn: turn}
}

func (t *Transcript) Len() int {
	return len(t.turns)
}

// Messages returns the role/content pairs of all turns, in order.
func (t *Transcript) Messages() []Message {
	ret := make([]Message, 0, len(t.turns))
	for _, turn := range t.turns {
		ret = append(ret, Message{Role: turn.Role, Content: turn.Content})
	}
	return ret
}

// Snapshot returns a deep copy that stays valid while the transcript keeps changing.
func (t *Transcript) Snapshot() Snapshot {
	s := Snapshot{Turns: make([]Turn, 0, len(t.turns))}
	for _, turn := range t.turns {
		s.Turns = append(s.Turns, turn.clone())
	}
	if t.open != nil {
		s.OpenID = t.open.ID
	}
	return s
}

// Snapshot is a read-only copy of the transcript.
type Snapshot struct {
	Turns  []Turn `json:"turns" yaml:"turns"`
	OpenID string `json:"open_id,omitempty" yaml:"open_id,omitempty"`
}

// Last returns the most recent turn.
func (s Snapshot) Last() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Find returns the turn with the given id.
func (s Snapshot) Find(id string) (Turn, bool) {
	for _, turn := range s.Turns {
		if turn.ID == id {
			return turn, true
		}
	}
	return Turn{}, false
}

// LastSQL returns the query text of the most recent turn that has one.
func (s Snapshot) LastSQL() string {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].SQL != "" {
			return s.Turns[i].SQL
		}
	}
	return ""
}

// Handle is the explicit reference to the open assistant turn.
type Handle struct {
	t    *Transcript
	turn *Turn
}

func (h *Handle) ID() string {
	return h.turn.ID
}

// Open reports whether the turn can still be mutated.
func (h *Handle) Open() bool {
	return h != nil && h.t.open == h.turn
}

// Close freezes the turn. Closing twice is a no-op.
func (h *Handle) Close() {
	if h.Open() {
		h.t.open = nil
	}
}

func (h *Handle) mutate(f func(*Turn)) error {
	if !h.Open() {
		return ErrFrozen
	}
	f(h.turn)
	return nil
}

// AppendContent grows the content; it never truncates.
func (h *Handle) AppendContent(delta string) error {
	return h.mutate(func(t *Turn) { t.Content += delta })
}

// ReplaceContent overwrites the content, used for error reporting.
func (h *Handle) ReplaceContent(content string) error {
	return h.mutate(func(t *Turn) { t.Content = content })
}

func (h *Handle) SetSQL(sql string) error {
	return h.mutate(func(t *Turn) { t.SQL = sql })
}

// SetChart replaces any chart already attached to the turn.
func (h *Handle) SetChart(chart ChartSpec) error {
	return h.mutate(func(t *Turn) { t.Chart = chart.clone() })
}

// SetMap replaces any map already attached to the turn.
func (h *Handle) SetMap(geo GeoPayload) error {
	return h.mutate(func(t *Turn) { t.Map = geo.clone() })
}
