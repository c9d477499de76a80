package attribution

import (
	"github.com/logflow/waitlens/pkg/evidence"
	"github.com/logflow/waitlens/pkg/index"
	"github.com/logflow/waitlens/pkg/interval"
)

// Batching claims the part of the wait inside the formation window of the
// instance's batch.
type Batching struct {
	idx     *index.InstanceIndex
	batches map[string]evidence.Batch
}

// NewBatching creates a batching attributor from detected memberships keyed
// by instance ID.
func NewBatching(idx *index.InstanceIndex, batches map[string]evidence.Batch) *Batching {
	return &Batching{idx: idx, batches: batches}
}

// Cause implements Attributor.
func (b *Batching) Cause() Cause { return CauseBatching }

// Claim implements Attributor.
func (b *Batching) Claim(pos uint32, wait interval.Interval) interval.Set {
	batch, ok := b.batches[b.idx.Instance(pos).ID]
	if !ok {
		return nil
	}
	return interval.Clip(interval.Of(batch.Formation), wait)
}

// Contention claims the time the instance's resource spent executing any
// other instance, of any activity.
type Contention struct {
	idx *index.InstanceIndex
}

// NewContention creates a contention attributor.
func NewContention(idx *index.InstanceIndex) *Contention {
	return &Contention{idx: idx}
}

// Cause implements Attributor.
func (c *Contention) Cause() Cause { return CauseContention }

// Claim implements Attributor.
func (c *Contention) Claim(pos uint32, wait interval.Interval) interval.Set {
	resource := c.idx.Instance(pos).Resource
	if resource == "" {
		return nil
	}
	return c.idx.Busy(resource, wait, pos)
}

// Unavailability claims the time the instance's resource was off duty.
type Unavailability struct {
	idx      *index.InstanceIndex
	calendar evidence.Calendar
}

// NewUnavailability creates an unavailability attributor.
func NewUnavailability(idx *index.InstanceIndex, cal evidence.Calendar) *Unavailability {
	if cal == nil {
		cal = evidence.AlwaysAvailable{}
	}
	return &Unavailability{idx: idx, calendar: cal}
}

// Cause implements Attributor.
func (u *Unavailability) Cause() Cause { return CauseUnavailability }

// Claim implements Attributor.
func (u *Unavailability) Claim(pos uint32, wait interval.Interval) interval.Set {
	if wait.Empty() {
		return nil
	}
	off := u.calendar.NonWorking(u.idx.Instance(pos).Resource, wait)
	return interval.Clip(interval.Normalize(off), wait)
}
