package control

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Session is a paired acquisition of the control channel and
// (optionally) an imaging channel for one device: Close releases both,
// regardless of which step failed or which order the caller tears
// things down in. This formalizes the scattered `defer conn.Close()`
// idiom the source examples use for a single resource into one method
// that must release two.
type Session struct {
	// Control is the connected control client for this session.
	Control *Client

	mu        sync.Mutex
	imaging   io.Closer
	closeOnce sync.Once
}

// Acquire connects the control channel to endpoint and returns a
// Session. If Acquire fails, no resources are left open.
func (c *Client) Acquire(ctx context.Context, endpoint string) (*Session, error) {
	if err := c.Connect(ctx, endpoint); err != nil {
		return nil, err
	}
	return &Session{Control: c}, nil
}

// AttachImaging registers an additional closer (typically an
// *imaging.Client) to be released alongside the control channel. It is
// a no-op once the Session has already been closed.
func (s *Session) AttachImaging(imaging io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imaging = imaging
}

// Close releases the imaging channel (if attached) and the control
// channel, in that order, collecting errors from both rather than
// stopping at the first. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		imaging := s.imaging
		s.mu.Unlock()

		var errImaging, errControl error
		if imaging != nil {
			errImaging = imaging.Close()
		}
		errControl = s.Control.Disconnect()
		err = errors.Join(errImaging, errControl)
	})
	return err
}
