package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type timezoneMap map[int64]string

func (m timezoneMap) GetTimezone(ctx context.Context, owner int64) (string, error) {
	return m[owner], nil
}

type failingDirectory struct{}

func (failingDirectory) GetTimezone(ctx context.Context, owner int64) (string, error) {
	return "", errors.New("connection refused")
}

func utc(hour, minute int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestMatcherUsesOwnerTimezone(t *testing.T) {
	// Europe/Moscow = UTC+3 без перехода на летнее время
	m := NewMatcher(timezoneMap{1: "Europe/Moscow"}, testLogger())
	meds := []Medicine{{
		ID: 10, Owner: 1, Name: "Аспирин", DoseUnit: "Таблетки",
		DoseAmounts:   []string{"1"},
		ReminderTimes: []TimeOfDay{{Hour: 8}},
	}}

	due := m.Match(context.Background(), utc(5, 0), meds)
	gt.Array(t, due).Length(1).Required()
	gt.Value(t, due[0]).Equal(DueEvent{
		MedicineID: 10, Owner: 1, Name: "Аспирин", Dose: "1", Unit: "Таблетки", Slot: 0,
	})

	gt.Array(t, m.Match(context.Background(), utc(4, 59), meds)).Length(0)
	gt.Array(t, m.Match(context.Background(), utc(5, 1), meds)).Length(0)
	gt.Array(t, m.Match(context.Background(), utc(8, 0), meds)).Length(0)
}

func TestMatcherPicksDoseBySlot(t *testing.T) {
	m := NewMatcher(timezoneMap{1: "UTC"}, testLogger())
	meds := []Medicine{{
		ID: 1, Owner: 1, Name: "Сироп", DoseUnit: "мл",
		DoseAmounts:   []string{"5", "10"},
		ReminderTimes: []TimeOfDay{{Hour: 8}, {Hour: 20}},
	}}

	due := m.Match(context.Background(), utc(20, 0), meds)
	gt.Array(t, due).Length(1).Required()
	gt.Value(t, due[0].Dose).Equal("10")
	gt.Value(t, due[0].Slot).Equal(1)
}

func TestMatcherShortDoseListFallsBack(t *testing.T) {
	m := NewMatcher(timezoneMap{1: "UTC"}, testLogger())
	meds := []Medicine{
		{ID: 1, Owner: 1, DoseAmounts: []string{"2"}, ReminderTimes: []TimeOfDay{{Hour: 8}, {Hour: 9}}},
		{ID: 2, Owner: 1, ReminderTimes: []TimeOfDay{{Hour: 9}}},
	}

	due := m.Match(context.Background(), utc(9, 0), meds)
	gt.Array(t, due).Length(2).Required()
	gt.Value(t, due[0].Dose).Equal("2")
	gt.Value(t, due[1].Dose).Equal(UnspecifiedDose)
}

func TestMatcherDuplicateTimesProduceSeparateEvents(t *testing.T) {
	m := NewMatcher(timezoneMap{1: "UTC"}, testLogger())
	meds := []Medicine{{
		ID: 1, Owner: 1,
		DoseAmounts:   []string{"1", "0.5"},
		ReminderTimes: []TimeOfDay{{Hour: 8}, {Hour: 8}},
	}}

	due := m.Match(context.Background(), utc(8, 0), meds)
	gt.Array(t, due).Length(2).Required()
	gt.Value(t, due[0].Slot).Equal(0)
	gt.Value(t, due[1].Slot).Equal(1)
}

func TestMatcherSkipsOwnersWithoutUsableTimezone(t *testing.T) {
	meds := []Medicine{
		{ID: 1, Owner: 1, DoseAmounts: []string{"1"}, ReminderTimes: []TimeOfDay{{Hour: 8}}},
		{ID: 2, Owner: 2, DoseAmounts: []string{"1"}, ReminderTimes: []TimeOfDay{{Hour: 8}}},
		{ID: 3, Owner: 3, DoseAmounts: []string{"1"}, ReminderTimes: []TimeOfDay{{Hour: 8}}},
	}
	m := NewMatcher(timezoneMap{1: "", 2: "Mars/Olympus_Mons", 3: "UTC"}, testLogger())

	due := m.Match(context.Background(), utc(8, 0), meds)
	gt.Array(t, due).Length(1).Required()
	gt.Value(t, due[0].MedicineID).Equal(int64(3))
}

func TestMatcherDirectoryFailure(t *testing.T) {
	m := NewMatcher(failingDirectory{}, testLogger())
	meds := []Medicine{{ID: 1, Owner: 1, DoseAmounts: []string{"1"}, ReminderTimes: []TimeOfDay{{Hour: 8}}}}

	gt.Array(t, m.Match(context.Background(), utc(8, 0), meds)).Length(0)
}

type countingDirectory struct {
	timezoneMap
	calls int
}

func (d *countingDirectory) GetTimezone(ctx context.Context, owner int64) (string, error) {
	d.calls++
	return d.timezoneMap.GetTimezone(ctx, owner)
}

func TestMatcherResolvesTimezoneOncePerOwner(t *testing.T) {
	dir := &countingDirectory{timezoneMap: timezoneMap{1: "UTC"}}
	m := NewMatcher(dir, testLogger())
	meds := []Medicine{
		{ID: 1, Owner: 1, DoseAmounts: []string{"1"}, ReminderTimes: []TimeOfDay{{Hour: 8}}},
		{ID: 2, Owner: 1, DoseAmounts: []string{"1"}, ReminderTimes: []TimeOfDay{{Hour: 9}}},
		{ID: 3, Owner: 1, DoseAmounts: []string{"1"}, ReminderTimes: []TimeOfDay{{Hour: 8}}},
	}

	due := m.Match(context.Background(), utc(8, 0), meds)
	gt.Array(t, due).Length(2)
	gt.Value(t, dir.calls).Equal(1)
}
