package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"
)

// Notifier доставляет текст пользователю. Любая ошибка обрабатывается одинаково: лог и дальше.
type Notifier interface {
	Send(ctx context.Context, owner int64, text string) error
}

type inventory interface {
	GetMedicine(ctx context.Context, id int64) (*Medicine, error)
	DecrementRemaining(ctx context.Context, id int64, amount decimal.Decimal) error
	DeleteMedicine(ctx context.Context, id int64) error
}

// Outcome показывает, чем закончилась обработка одного DueEvent
type Outcome string

const (
	OutcomeReminded   Outcome = "reminded"
	OutcomeDepleted   Outcome = "depleted"
	OutcomeSendFailed Outcome = "send_failed"
	OutcomeVanished   Outcome = "vanished"
	OutcomeExhausted  Outcome = "exhausted"
	OutcomeStoreError Outcome = "store_error"
)

// Dispatcher отправляет напоминание и списывает дозу с остатка.
// Перед каждой записью лекарство перечитывается по ID, снимку из Matcher он не доверяет.
type Dispatcher struct {
	store        inventory
	notifier     Notifier
	logger       *slog.Logger
	eventTimeout time.Duration
}

func NewDispatcher(store inventory, notifier Notifier, logger *slog.Logger, eventTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:        store,
		notifier:     notifier,
		logger:       logger,
		eventTimeout: eventTimeout,
	}
}

func (d *Dispatcher) withLogger(logger *slog.Logger) *Dispatcher {
	c := *d
	c.logger = logger
	return &c
}

// Process обрабатывает событие целиком; ошибки не выходят наружу
func (d *Dispatcher) Process(ctx context.Context, ev DueEvent) Outcome {
	if d.eventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.eventTimeout)
		defer cancel()
	}

	logger := d.logger.With("owner", ev.Owner, "medicine_id", ev.MedicineID, "slot", ev.Slot)
	outcome, err := d.process(ctx, logger, ev)
	if err != nil {
		logger.Error("Failed to process reminder", "outcome", outcome, "error", err)
		return outcome
	}

	logger.Info("Reminder processed", "outcome", outcome)
	return outcome
}

func (d *Dispatcher) process(ctx context.Context, logger *slog.Logger, ev DueEvent) (Outcome, error) {
	// без доставленного напоминания остаток не трогаем: следующий слот повторит попытку
	if err := d.notifier.Send(ctx, ev.Owner, ev.ReminderText()); err != nil {
		return OutcomeSendFailed, goerr.Wrap(err, "failed to send reminder")
	}

	med, err := d.store.GetMedicine(ctx, ev.MedicineID)
	if err != nil {
		return OutcomeStoreError, goerr.Wrap(err, "failed to re-fetch medicine")
	}
	if med == nil {
		logger.Warn("Medicine disappeared before decrement")
		return OutcomeVanished, nil
	}

	if !med.RemainingQuantity.IsPositive() {
		logger.Info("Medicine already exhausted, removing without warning",
			"remaining", med.RemainingQuantity.String())
		if err := d.store.DeleteMedicine(ctx, med.ID); err != nil {
			return OutcomeStoreError, goerr.Wrap(err, "failed to delete exhausted medicine")
		}
		return OutcomeExhausted, nil
	}

	amount := d.doseAmount(logger, ev.Dose)
	if err := d.store.DecrementRemaining(ctx, med.ID, amount); err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Warn("Medicine disappeared during decrement")
			return OutcomeVanished, nil
		}
		return OutcomeStoreError, goerr.Wrap(err, "failed to decrement remaining", goerr.V("amount", amount.String()))
	}

	med, err = d.store.GetMedicine(ctx, ev.MedicineID)
	if err != nil {
		return OutcomeStoreError, goerr.Wrap(err, "failed to re-fetch medicine after decrement")
	}
	if med == nil {
		logger.Warn("Medicine disappeared after decrement")
		return OutcomeVanished, nil
	}
	if med.RemainingQuantity.IsPositive() {
		logger.Info("Remaining quantity decremented", "remaining", med.RemainingQuantity.String())
		return OutcomeReminded, nil
	}

	if err := d.notifier.Send(ctx, ev.Owner, depletionText(ev.Name)); err != nil {
		// запись удаляем всё равно, иначе она останется висеть с нулевым остатком
		logger.Error("Failed to send depletion warning", "error", err)
	}
	if err := d.store.DeleteMedicine(ctx, med.ID); err != nil {
		return OutcomeStoreError, goerr.Wrap(err, "failed to delete depleted medicine")
	}
	logger.Info("Medicine depleted and removed", "name", ev.Name)
	return OutcomeDepleted, nil
}

// doseAmount: нераспознанная или неположительная доза списывается как 1
func (d *Dispatcher) doseAmount(logger *slog.Logger, dose string) decimal.Decimal {
	amount, ok := ParseDose(dose)
	if ok && amount.IsPositive() {
		return amount
	}
	logger.Warn("Cannot parse dose, decrementing by 1", "dose", dose)
	return decimal.NewFromInt(1)
}
