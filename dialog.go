package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// dialogStep определяет, какой ввод бот ждёт от пользователя
type dialogStep int

const (
	stepNone dialogStep = iota
	stepWaitingLocation
	stepWaitingName
	stepWaitingDoses
	stepWaitingUnit
	stepWaitingQuantity
	stepWaitingTimes
	stepWaitingDeleteName
)

// medicineDraft накапливает проверенные поля, пока идёт диалог /add
type medicineDraft struct {
	Name     string
	Doses    []string
	Unit     string
	Quantity int
}

type dialog struct {
	mu    sync.Mutex
	step  dialogStep
	draft medicineDraft
}

// dialogReply отвечает на очередной ввод. Created заполнен, когда все поля собраны.
type dialogReply struct {
	Text    string
	Buttons []string
	Created *NewMedicine
}

func (d *dialog) reset() {
	d.step = stepNone
	d.draft = medicineDraft{}
}

func (d *dialog) startAdd() dialogReply {
	d.step = stepWaitingName
	d.draft = medicineDraft{}
	return dialogReply{Text: "Пожалуйста, введите название лекарства:"}
}

// advanceAdd обрабатывает ввод на шагах /add. Ошибка в поле оставляет шаг прежним,
// несовпадение числа доз и времён сбрасывает диалог целиком.
func (d *dialog) advanceAdd(owner int64, input string, units []string) dialogReply {
	input = strings.TrimSpace(input)

	switch d.step {
	case stepWaitingName:
		if input == "" {
			return dialogReply{Text: "Название не может быть пустым. Попробуйте ещё раз:"}
		}
		d.draft.Name = input
		d.step = stepWaitingDoses
		return dialogReply{Text: "Теперь введите дозировку лекарства (можно несколько через запятую, только числа, например '1, 0.5, 2'):"}

	case stepWaitingDoses:
		doses, ok := parseDoseList(input)
		if !ok {
			return dialogReply{Text: "Пожалуйста, вводите только положительные числа в качестве дозировки (например, '1' или '0.5'). Если дозировок несколько, разделите их запятой."}
		}
		d.draft.Doses = doses
		d.step = stepWaitingUnit
		return dialogReply{Text: "Выберите единицу измерения дозировки:", Buttons: units}

	case stepWaitingUnit:
		if !slices.Contains(units, input) {
			return dialogReply{Text: "Пожалуйста, выберите единицу измерения, используя кнопки:", Buttons: units}
		}
		d.draft.Unit = input
		d.step = stepWaitingQuantity
		return dialogReply{Text: "Введите общее количество доз в упаковке (целое число):"}

	case stepWaitingQuantity:
		quantity, ok := parseQuantity(input)
		if !ok {
			return dialogReply{Text: "Пожалуйста, введите целое положительное число для общего количества доз."}
		}
		d.draft.Quantity = quantity
		d.step = stepWaitingTimes
		return dialogReply{Text: "Введите время приема лекарства (можно несколько через запятую, например '8:00, 12:30, 20:00'):"}

	case stepWaitingTimes:
		times, bad, ok := parseTimeList(input)
		if !ok {
			return dialogReply{Text: fmt.Sprintf("Неверный формат времени: '%s'. Пожалуйста, используйте формат ЧЧ:ММ (например, 8:00 или 21:30) для всех времен.", bad)}
		}
		if len(times) != len(d.draft.Doses) {
			d.reset()
			return dialogReply{Text: "Количество дозировок и времен приема должно совпадать. Начните заново: /add"}
		}

		m := &NewMedicine{
			Owner:         owner,
			Name:          d.draft.Name,
			DoseAmounts:   d.draft.Doses,
			DoseUnit:      d.draft.Unit,
			TotalQuantity: d.draft.Quantity,
			ReminderTimes: times,
		}
		d.reset()
		return dialogReply{
			Text: fmt.Sprintf("Лекарство '%s' (дозировки: %s %s), время приема: %s добавлено.",
				m.Name, strings.Join(m.DoseAmounts, ", "), m.DoseUnit, formatTimeList(times)),
			Created: m,
		}
	}

	d.reset()
	return dialogReply{Text: "Используйте /add, чтобы добавить лекарство."}
}

func (d *dialog) inAddFlow() bool {
	switch d.step {
	case stepWaitingName, stepWaitingDoses, stepWaitingUnit, stepWaitingQuantity, stepWaitingTimes:
		return true
	}
	return false
}

func parseDoseList(s string) ([]string, bool) {
	if s == "" {
		return nil, false
	}
	doses := splitList(s)
	for _, d := range doses {
		v, ok := ParseDose(d)
		if !ok || !v.IsPositive() {
			return nil, false
		}
	}
	return doses, true
}

func parseQuantity(s string) (int, bool) {
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > MaxTotalQuantity {
		return 0, false
	}
	return n, true
}

// parseTimeList при ошибке возвращает первое неверное значение
func parseTimeList(s string) ([]TimeOfDay, string, bool) {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil, s, false
	}
	times := make([]TimeOfDay, 0, len(parts))
	for _, p := range parts {
		t, err := ParseTimeOfDay(p)
		if err != nil {
			return nil, p, false
		}
		times = append(times, t)
	}
	return times, "", true
}

func formatTimeList(times []TimeOfDay) string {
	return strings.Join(formatTimes(times), ", ")
}
