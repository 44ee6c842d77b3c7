package store

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"zombiezen.com/go/sqlite"
)

// slot is one compiled statement plus its exclusivity flag. A locked slot
// belongs to exactly one Statement until that Statement is closed.
type slot struct {
	stmt   *sqlite.Stmt
	text   string
	locked bool

	// hasRow records whether the last Step left the cursor on a row.
	hasRow bool
}

// pool groups slots by SQL text. When every slot for a text is locked, a
// new one is compiled and appended: the pool trades memory for absence of
// contention and never blocks an acquirer.
type pool struct {
	slots map[string][]*slot
}

func newPool() *pool {
	return &pool{slots: make(map[string][]*slot)}
}

// acquire finds an unlocked slot for text or compiles a new one, and
// marks it locked.
func (p *pool) acquire(c *Conn, text string) (*slot, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("prepare statement: %w", ErrInvalidConnection)
	}

	for _, s := range p.slots[text] {
		if !s.locked {
			s.locked = true
			s.hasRow = false
			return s, nil
		}
	}

	s, err := p.compile(c, text)
	if err != nil {
		return nil, err
	}
	p.slots[text] = append(p.slots[text], s)
	s.locked = true

	if n := len(p.slots[text]); n > 1 {
		log.Debug().
			Str("sql", text).
			Int("slots", n).
			Msg("statement pool grew for reentrant acquisition")
	}
	return s, nil
}

// compile prepares text as a single statement. Each slot tracks exactly
// one statement: anything after the first complete statement other than
// ';' and ' ' rejects the text.
func (p *pool) compile(c *Conn, text string) (*slot, error) {
	stmt, trailing, err := c.conn.PrepareTransient(text)
	if err != nil {
		return nil, wrapSQLite("prepare statement", text, err)
	}
	if trailing > 0 {
		for _, b := range []byte(text[len(text)-trailing:]) {
			if b != ';' && b != ' ' {
				_ = stmt.Finalize()
				return nil, fmt.Errorf("prepare %q: %w", text, ErrTooManyStatements)
			}
		}
	}
	return &slot{stmt: stmt, text: text}, nil
}

// release returns a slot to the pool: reset, bindings cleared, unlocked.
// Never fails.
func (p *pool) release(s *slot) {
	if s.stmt != nil {
		_ = s.stmt.Reset()
		_ = s.stmt.ClearBindings()
	}
	s.hasRow = false
	s.locked = false
}

// clean restores a slot to a reusable state after a bind, step or
// extraction failure, so no stale partial bindings leak to the next
// acquirer. The slot stays locked by its current owner.
func (p *pool) clean(s *slot) {
	if s.stmt != nil {
		_ = s.stmt.Reset()
		_ = s.stmt.ClearBindings()
	}
	s.hasRow = false
}

// finalizeAll destroys every slot; called when the connection closes.
func (p *pool) finalizeAll() {
	for _, slots := range p.slots {
		for _, s := range slots {
			if s.stmt != nil {
				_ = s.stmt.Finalize()
				s.stmt = nil
			}
		}
	}
	p.slots = make(map[string][]*slot)
}
