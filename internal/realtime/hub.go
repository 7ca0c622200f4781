// Package realtime fans job updates out to subscribers of a job group.
//
// A subscriber joins a group by presenting a capability token for it. On join
// the hub replays the persisted state of every job in the group, then switches
// the subscriber to live updates. Updates published while the replay is in
// flight are buffered and delivered after it, so a subscriber never sees a
// live update before the replay.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/calc-jobs/internal/job"
	"github.com/google/uuid"
)

// EventJobUpdate is the event name carried by every update frame
const EventJobUpdate = "job_update"

// DefaultReplayTimeout bounds the replay query of a single join
const DefaultReplayTimeout = 10 * time.Second

// Subscriber is one connected client. Send must not block; it reports false
// when the message could not be queued.
type Subscriber interface {
	ID() string
	Send(event string, payload any) bool
}

// JobLister reads the current state of a group's jobs for replay
type JobLister interface {
	ListJobsByGroup(ctx context.Context, groupID string) ([]job.Job, error)
}

// TokenVerifier checks that token grants access to groupID
type TokenVerifier interface {
	Verify(token string, groupID uuid.UUID) error
}

type member struct {
	sub       Subscriber
	replaying bool
	pending   []job.Update
}

// Hub tracks group membership. Safe for concurrent use.
type Hub struct {
	verifier      TokenVerifier
	jobs          JobLister
	replayTimeout time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	groups map[string]map[string]*member
	joined map[string]map[string]struct{}
}

// NewHub creates a hub. A zero replayTimeout uses DefaultReplayTimeout.
func NewHub(verifier TokenVerifier, jobs JobLister, replayTimeout time.Duration, logger *slog.Logger) *Hub {
	if replayTimeout <= 0 {
		replayTimeout = DefaultReplayTimeout
	}
	return &Hub{
		verifier:      verifier,
		jobs:          jobs,
		replayTimeout: replayTimeout,
		logger:        logger,
		groups:        make(map[string]map[string]*member),
		joined:        make(map[string]map[string]struct{}),
	}
}

// Join adds sub to the group when token is valid for it and replays the
// group's jobs. It returns false, without telling the subscriber anything,
// when the group id or the token is rejected.
func (h *Hub) Join(ctx context.Context, sub Subscriber, jobGroupID, token string) bool {
	groupID, err := uuid.Parse(jobGroupID)
	if err != nil {
		h.logger.Debug("Rejected join with malformed job group id",
			slog.String("subscriber", sub.ID()),
			slog.String("job_group_id", jobGroupID),
		)
		return false
	}

	if err := h.verifier.Verify(token, groupID); err != nil {
		h.logger.Debug("Rejected join with invalid capability token",
			slog.String("subscriber", sub.ID()),
			slog.String("job_group_id", jobGroupID),
			slog.Any("error", err),
		)
		return false
	}

	key := groupID.String()
	m := h.register(sub, key)

	jobs, err := h.replay(ctx, key)
	if err != nil {
		h.logger.Error("Failed to load jobs for replay",
			slog.String("subscriber", sub.ID()),
			slog.String("job_group_id", key),
			slog.Any("error", err),
		)
		jobs = nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, j := range jobs {
		sub.Send(EventJobUpdate, job.UpdateFromJob(j))
	}
	for _, u := range m.pending {
		sub.Send(EventJobUpdate, u)
	}
	m.pending = nil
	m.replaying = false

	h.logger.Debug("Subscriber joined job group",
		slog.String("subscriber", sub.ID()),
		slog.String("job_group_id", key),
		slog.Int("replayed", len(jobs)),
	)

	return true
}

func (h *Hub) replay(ctx context.Context, groupID string) ([]job.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, h.replayTimeout)
	defer cancel()
	return h.jobs.ListJobsByGroup(ctx, groupID)
}

func (h *Hub) register(sub Subscriber, groupID string) *member {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[groupID]
	if !ok {
		members = make(map[string]*member)
		h.groups[groupID] = members
	}

	m, ok := members[sub.ID()]
	if !ok {
		m = &member{sub: sub}
		members[sub.ID()] = m
	}
	m.replaying = true

	groups, ok := h.joined[sub.ID()]
	if !ok {
		groups = make(map[string]struct{})
		h.joined[sub.ID()] = groups
	}
	groups[groupID] = struct{}{}

	return m
}

// Publish delivers update to every member of the group
func (h *Hub) Publish(_ context.Context, jobGroupID string, update job.Update) error {
	jobGroupID = groupKey(jobGroupID)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range h.groups[jobGroupID] {
		if m.replaying {
			m.pending = append(m.pending, update)
			continue
		}
		if !m.sub.Send(EventJobUpdate, update) {
			h.logger.Warn("Dropped job update for slow subscriber",
				slog.String("subscriber", m.sub.ID()),
				slog.String("job_group_id", jobGroupID),
				slog.String("job_id", update.JobID),
			)
		}
	}

	return nil
}

// Leave removes sub from every group it joined
func (h *Hub) Leave(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for groupID := range h.joined[sub.ID()] {
		members := h.groups[groupID]
		delete(members, sub.ID())
		if len(members) == 0 {
			delete(h.groups, groupID)
		}
	}
	delete(h.joined, sub.ID())
}

// Members returns the number of subscribers in a group
func (h *Hub) Members(jobGroupID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[groupKey(jobGroupID)])
}

// groupKey canonicalizes a job group id; unparsable ids are used as given
func groupKey(jobGroupID string) string {
	if id, err := uuid.Parse(jobGroupID); err == nil {
		return id.String()
	}
	return jobGroupID
}
