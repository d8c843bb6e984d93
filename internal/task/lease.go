package task

import (
	"time"

	"github.com/workmesh/workmesh/internal/werr"
)

// DefaultLeaseMinutes is used when claim is called with minutes <= 0.
const DefaultLeaseMinutes = 60

// Claim acquires or renews a lease on behalf of owner. A live lease
// held by a different owner is rejected with Leased; the same owner
// may renew (re-claim) at any time, extending ExpiresAt. A claim alone
// never changes status; callers that also want the In Progress
// transition call SetStatus separately.
func (s *Store) Claim(id, owner string, minutes int) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()

	now := s.clock.Now()
	if t.Lease.Active(now) && t.Lease.Owner != owner {
		return nil, werr.New(werr.Leased, "task %s is leased to %s until %s", id, t.Lease.Owner, t.Lease.ExpiresAt.UTC().Format(time.RFC3339))
	}

	if minutes <= 0 {
		minutes = DefaultLeaseMinutes
	}
	t.Lease = &Lease{
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(time.Duration(minutes) * time.Minute),
	}
	s.touch(t, true)

	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("claim", before, t)
	return t, nil
}

// Release clears a lease, rejecting the request if the caller isn't
// the current owner and the lease is still live. An expired or absent
// lease is cleared for any caller; the task is still touched,
// rewritten and reported as a release.
func (s *Store) Release(id, owner string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()

	now := s.clock.Now()
	if t.Lease.Active(now) && t.Lease.Owner != owner {
		return nil, werr.New(werr.NotOwner, "task %s is leased to %s, not %s", id, t.Lease.Owner, owner)
	}

	t.Lease = nil
	s.touch(t, true)

	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("release", before, t)
	return t, nil
}
