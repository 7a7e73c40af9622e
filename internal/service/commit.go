package service

import (
	"context"
	"errors"
	"time"

	"github.com/atis/platform/internal/domain"
	"github.com/atis/platform/internal/repository"
	"github.com/google/uuid"
)

type deviceTouch struct {
	deviceID uuid.UUID
	ip       string
}

// sessionCommit is one versioned session write plus everything that must land with it.
type sessionCommit struct {
	session  *domain.Session
	prev     domain.SessionStatus
	alerts   []domain.SecurityAlert
	activity *domain.Activity
	touch    *deviceTouch
	at       time.Time
}

// commitSession applies c in one transaction. A stale version aborts the whole
// write with a concurrency conflict so the caller can reload and retry.
func commitSession(ctx context.Context, repos Repositories, emitter *AlertEmitter, c sessionCommit) error {
	return repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		if err := repos.Sessions.Update(ctx, tx, c.session); err != nil {
			return err
		}
		if c.prev == domain.SessionActive && c.session.Status != domain.SessionActive {
			if err := repos.Outbox.Insert(ctx, tx, domain.NewSessionClosedEvent(c.session, c.at)); err != nil {
				return err
			}
		}
		if c.activity != nil {
			if err := repos.Activities.Insert(ctx, tx, c.activity); err != nil {
				return err
			}
		}
		for i := range c.alerts {
			if err := emitter.persist(ctx, tx, &c.alerts[i]); err != nil {
				return err
			}
		}
		if c.touch != nil {
			if err := repos.Devices.TouchActivity(ctx, tx, c.touch.deviceID, c.touch.ip, c.at); err != nil {
				return err
			}
		}
		return nil
	})
}

// asAppError passes typed errors through and wraps everything else as internal.
func asAppError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return domain.ErrInternal(op, err)
}
