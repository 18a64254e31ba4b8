package main

import (
	"context"
	"log/slog"
	"time"
)

// TimezoneDirectory отдаёт часовой пояс владельца или "", если он не задан
type TimezoneDirectory interface {
	GetTimezone(ctx context.Context, owner int64) (string, error)
}

// Matcher находит слоты лекарств, время которых совпадает с текущей минутой
// в часовом поясе владельца. Совпадение точное, без окна допуска.
type Matcher struct {
	directory TimezoneDirectory
	logger    *slog.Logger
}

func NewMatcher(directory TimezoneDirectory, logger *slog.Logger) *Matcher {
	return &Matcher{directory: directory, logger: logger}
}

func (m *Matcher) withLogger(logger *slog.Logger) *Matcher {
	c := *m
	c.logger = logger
	return &c
}

// Match никогда не возвращает ошибку: проблемы с отдельным владельцем логируются,
// его лекарства пропускаются до следующего прохода.
func (m *Matcher) Match(ctx context.Context, now time.Time, medicines []Medicine) []DueEvent {
	locations := make(map[int64]*time.Location)
	var due []DueEvent

	for _, med := range medicines {
		loc, seen := locations[med.Owner]
		if !seen {
			loc = m.location(ctx, med.Owner)
			locations[med.Owner] = loc
		}
		if loc == nil {
			m.logger.Warn("No timezone for owner, skipping medicine",
				"owner", med.Owner, "medicine_id", med.ID, "name", med.Name)
			continue
		}

		local := now.In(loc)
		hour, minute := local.Hour(), local.Minute()

		for i, t := range med.ReminderTimes {
			if t.Hour != hour || t.Minute != minute {
				continue
			}
			ev := DueEvent{
				MedicineID: med.ID,
				Owner:      med.Owner,
				Name:       med.Name,
				Dose:       med.DoseAt(i),
				Unit:       med.DoseUnit,
				Slot:       i,
			}
			if i >= len(med.DoseAmounts) {
				m.logger.Warn("Dose list shorter than reminder times, using fallback dose",
					"medicine_id", med.ID, "slot", i, "dose", ev.Dose)
			}
			m.logger.Info("Reminder is due",
				"owner", med.Owner, "medicine_id", med.ID, "time", t.String(), "dose", ev.Dose, "unit", ev.Unit)
			due = append(due, ev)
		}
	}

	return due
}

func (m *Matcher) location(ctx context.Context, owner int64) *time.Location {
	tz, err := m.directory.GetTimezone(ctx, owner)
	if err != nil {
		m.logger.Error("Failed to get owner timezone", "owner", owner, "error", err)
		return nil
	}
	if tz == "" {
		return nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		m.logger.Warn("Stored timezone cannot be loaded", "owner", owner, "timezone", tz, "error", err)
		return nil
	}
	return loc
}
