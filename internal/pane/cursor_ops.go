package pane

import (
	"fmt"

	"github.com/loppo-llc/muxd/internal/cursor"
)

// GetCursor returns the pane's current cursor position.
func (p *Pane) GetCursor() cursor.Position {
	return p.cursor.Position()
}

// SetCursor sets the local cursor position and writes the equivalent
// `ESC[r;cH` absolute move to the PTY, per spec.md §4.4.
func (p *Pane) SetCursor(pos cursor.Position) error {
	p.cursor.SetPosition(pos)
	_, err := p.Write([]byte(fmt.Sprintf("\x1b[%d;%dH", pos.Row, pos.Col)))
	return err
}

// SaveCursor saves the current position and writes `ESC[s`.
func (p *Pane) SaveCursor() error {
	p.cursor.Save()
	_, err := p.Write([]byte("\x1b[s"))
	return err
}

// RestoreCursor restores the saved position (erroring if nothing was
// saved) and writes `ESC[u`.
func (p *Pane) RestoreCursor() error {
	if err := p.cursor.Restore(); err != nil {
		return err
	}
	_, err := p.Write([]byte("\x1b[u"))
	return err
}

// QueryCursor writes `ESC[6n`; the reply arrives asynchronously via the
// PTY stream and is applied by the reader loop's ExtractReport call.
func (p *Pane) QueryCursor() error {
	_, err := p.Write([]byte("\x1b[6n"))
	return err
}

// ResetCursor resets local cursor state to (1,1) with no saved position,
// and writes `ESC[1;1H` so the remote side's real cursor matches.
func (p *Pane) ResetCursor() error {
	p.cursor.Reset()
	_, err := p.Write([]byte("\x1b[1;1H"))
	return err
}

// IsCursorInBounds reports whether the cursor is within the pane's
// current size.
func (p *Pane) IsCursorInBounds() bool {
	sz := p.Size()
	return p.cursor.InBounds(int(sz.Rows), int(sz.Cols))
}

// CursorRelative returns the cursor position as a fraction of the
// pane's current size.
func (p *Pane) CursorRelative() (float64, float64, error) {
	sz := p.Size()
	return p.cursor.Relative(int(sz.Rows), int(sz.Cols))
}
