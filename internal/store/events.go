package store

import (
	"context"

	"github.com/adforge/adforge/internal/model"
)

// CreateWizardEvent persists an event for SSE streaming.
func (s *Store) CreateWizardEvent(ctx context.Context, event *model.WizardEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// ListWizardEventsAfter returns up to limit events with seq greater than
// afterSeq, in seq order.
func (s *Store) ListWizardEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]*model.WizardEvent, error) {
	var events []*model.WizardEvent
	err := s.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// GetMaxWizardEventSeq returns the highest event sequence number, or 0 when
// no events exist.
func (s *Store) GetMaxWizardEventSeq(ctx context.Context) (int64, error) {
	var maxSeq *int64
	err := s.db.WithContext(ctx).Model(&model.WizardEvent{}).
		Select("MAX(seq)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	if maxSeq == nil {
		return 0, nil
	}
	return *maxSeq, nil
}
