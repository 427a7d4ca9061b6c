package repository

import (
	"context"
	"sync"
	"time"

	"go-gin-event-attendance/internal/model"
	apperrors "go-gin-event-attendance/pkg/app_errors"

	"github.com/google/uuid"
)

// 以下為活動、報名、參加者的記憶體版本，搭配 MemoryTicketRepository 做本機開發與測試

type MemoryEventRepository struct {
	mu      sync.RWMutex
	nextID  int
	events  map[uuid.UUID]*model.Event
	cohosts map[uuid.UUID]map[uuid.UUID]bool
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{
		events:  make(map[uuid.UUID]*model.Event),
		cohosts: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

var _ EventRepository = (*MemoryEventRepository)(nil)

func (r *MemoryEventRepository) Create(_ context.Context, event *model.Event) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := *event
	stored.ID = r.nextID
	now := time.Now().UTC()
	stored.CreatedAt, stored.UpdatedAt = now, now
	r.events[event.EventID] = &stored

	out := stored
	return &out, nil
}

func (r *MemoryEventRepository) FindByEventID(_ context.Context, eventID uuid.UUID) (*model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[eventID]
	if !ok {
		return nil, apperrors.ErrEventNotFound
	}
	out := *event
	return &out, nil
}

func (r *MemoryEventRepository) AddCoHost(_ context.Context, eventID, userID uuid.UUID, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cohosts[eventID]; !ok {
		r.cohosts[eventID] = make(map[uuid.UUID]bool)
	}
	r.cohosts[eventID][userID] = approved
	return nil
}

// Conclude 主辦提前結束活動
func (r *MemoryEventRepository) Conclude(eventID uuid.UUID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event, ok := r.events[eventID]; ok {
		concludedAt := at
		event.ConcludedAt = &concludedAt
	}
}

func (r *MemoryEventRepository) GetEventWindow(_ context.Context, eventID uuid.UUID) (model.EventWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[eventID]
	if !ok {
		return model.EventWindow{}, apperrors.ErrEventNotFound
	}
	return model.EventWindow{
		StartTime:   event.StartsAt,
		EndTime:     event.EndsAt,
		ConcludedAt: event.ConcludedAt,
	}, nil
}

func (r *MemoryEventRepository) HasConcluded(ctx context.Context, eventID uuid.UUID, now time.Time) (bool, error) {
	window, err := r.GetEventWindow(ctx, eventID)
	if err != nil {
		return false, err
	}
	return window.HasConcluded(now), nil
}

func (r *MemoryEventRepository) IsHostOrCoHost(_ context.Context, eventID, userID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[eventID]
	if !ok {
		return false, nil
	}
	if event.HostID == userID {
		return true, nil
	}
	return r.cohosts[eventID][userID], nil
}

type MemoryRegistrationRepository struct {
	mu            sync.RWMutex
	registrations map[ticketKey]model.RegistrationStatus
}

func NewMemoryRegistrationRepository() *MemoryRegistrationRepository {
	return &MemoryRegistrationRepository{
		registrations: make(map[ticketKey]model.RegistrationStatus),
	}
}

var _ RegistrationRepository = (*MemoryRegistrationRepository)(nil)

func (r *MemoryRegistrationRepository) Upsert(_ context.Context, eventID, participantID uuid.UUID, status model.RegistrationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.registrations[ticketKey{eventID, participantID}] = status
	return nil
}

func (r *MemoryRegistrationRepository) HasConfirmedRegistration(_ context.Context, eventID, participantID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.registrations[ticketKey{eventID, participantID}] == model.RegistrationStatusConfirmed, nil
}

type MemoryParticipantRepository struct {
	mu           sync.RWMutex
	participants map[uuid.UUID]*model.Participant
}

func NewMemoryParticipantRepository() *MemoryParticipantRepository {
	return &MemoryParticipantRepository{
		participants: make(map[uuid.UUID]*model.Participant),
	}
}

var _ ParticipantRepository = (*MemoryParticipantRepository)(nil)

func (r *MemoryParticipantRepository) Create(_ context.Context, participant *model.Participant) (*model.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *participant
	stored.CreatedAt = time.Now().UTC()
	r.participants[participant.ParticipantID] = &stored

	out := stored
	return &out, nil
}

func (r *MemoryParticipantRepository) FindByID(_ context.Context, participantID uuid.UUID) (*model.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participant, ok := r.participants[participantID]
	if !ok {
		return nil, apperrors.ErrParticipantNotFound
	}
	out := *participant
	return &out, nil
}

func (r *MemoryParticipantRepository) GetSummary(ctx context.Context, participantID uuid.UUID) (*model.ParticipantSummary, error) {
	participant, err := r.FindByID(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return participant.Summary(), nil
}
