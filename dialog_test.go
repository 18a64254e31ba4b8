package main

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestDialogAddFlow(t *testing.T) {
	var d dialog
	d.startAdd()
	gt.Value(t, d.step).Equal(stepWaitingName)

	r := d.advanceAdd(7, " Аспирин ", DefaultDoseUnits)
	gt.Value(t, d.step).Equal(stepWaitingDoses)
	gt.Value(t, r.Created).Nil()

	r = d.advanceAdd(7, "1, 0.5", DefaultDoseUnits)
	gt.Value(t, d.step).Equal(stepWaitingUnit)
	gt.Value(t, r.Buttons).Equal(DefaultDoseUnits)

	d.advanceAdd(7, "Таблетки", DefaultDoseUnits)
	gt.Value(t, d.step).Equal(stepWaitingQuantity)

	d.advanceAdd(7, "30", DefaultDoseUnits)
	gt.Value(t, d.step).Equal(stepWaitingTimes)

	r = d.advanceAdd(7, "8:00, 20:30", DefaultDoseUnits)
	gt.Value(t, d.step).Equal(stepNone)
	gt.Value(t, r.Created).NotNil().Required()
	gt.Value(t, *r.Created).Equal(NewMedicine{
		Owner:         7,
		Name:          "Аспирин",
		DoseAmounts:   []string{"1", "0.5"},
		DoseUnit:      "Таблетки",
		TotalQuantity: 30,
		ReminderTimes: []TimeOfDay{{Hour: 8}, {Hour: 20, Minute: 30}},
	})
	gt.NoError(t, r.Created.Validate())
	gt.String(t, r.Text).Contains("08:00, 20:30")
}

func TestDialogFieldErrorsKeepStep(t *testing.T) {
	testCases := []struct {
		name  string
		step  dialogStep
		input string
	}{
		{name: "empty name", step: stepWaitingName, input: "   "},
		{name: "non numeric dose", step: stepWaitingDoses, input: "одна"},
		{name: "zero dose", step: stepWaitingDoses, input: "1, 0"},
		{name: "exponent dose", step: stepWaitingDoses, input: "1e100000000"},
		{name: "too precise dose", step: stepWaitingDoses, input: "0.00001"},
		{name: "unknown unit", step: stepWaitingUnit, input: "ложки"},
		{name: "fractional quantity", step: stepWaitingQuantity, input: "2.5"},
		{name: "zero quantity", step: stepWaitingQuantity, input: "0"},
		{name: "negative quantity", step: stepWaitingQuantity, input: "-3"},
		{name: "huge quantity", step: stepWaitingQuantity, input: "99999999999"},
		{name: "bad time", step: stepWaitingTimes, input: "8:00, 25:00"},
		{name: "empty times", step: stepWaitingTimes, input: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := dialog{step: tc.step, draft: medicineDraft{Name: "Аспирин", Doses: []string{"1", "1"}}}
			r := d.advanceAdd(1, tc.input, DefaultDoseUnits)
			gt.Value(t, d.step).Equal(tc.step)
			gt.Value(t, r.Created).Nil()
		})
	}
}

func TestDialogBadTimeNamesValue(t *testing.T) {
	d := dialog{step: stepWaitingTimes, draft: medicineDraft{Doses: []string{"1", "1"}}}
	r := d.advanceAdd(1, "8:00, 8.30", DefaultDoseUnits)
	gt.String(t, r.Text).Contains("'8.30'")
}

func TestDialogCountMismatchResets(t *testing.T) {
	d := dialog{
		step:  stepWaitingTimes,
		draft: medicineDraft{Name: "Аспирин", Doses: []string{"1", "0.5"}, Unit: "мл", Quantity: 5},
	}
	r := d.advanceAdd(1, "8:00", DefaultDoseUnits)
	gt.Value(t, r.Created).Nil()
	gt.Value(t, d.step).Equal(stepNone)
	gt.Value(t, d.draft.Name).Equal("")
	gt.String(t, r.Text).Contains("/add")
}

func TestDialogCustomUnits(t *testing.T) {
	units := []string{"капли"}
	d := dialog{step: stepWaitingUnit}

	d.advanceAdd(1, "мл", units)
	gt.Value(t, d.step).Equal(stepWaitingUnit)

	d.advanceAdd(1, "капли", units)
	gt.Value(t, d.step).Equal(stepWaitingQuantity)
	gt.Value(t, d.draft.Unit).Equal("капли")
}

func TestDialogInAddFlow(t *testing.T) {
	gt.Bool(t, (&dialog{step: stepWaitingDoses}).inAddFlow()).True()
	gt.Bool(t, (&dialog{step: stepNone}).inAddFlow()).False()
	gt.Bool(t, (&dialog{step: stepWaitingDeleteName}).inAddFlow()).False()
	gt.Bool(t, (&dialog{step: stepWaitingLocation}).inAddFlow()).False()
}
