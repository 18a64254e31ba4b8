package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/m-mizutani/goerr/v2"
)

// incoming описывает сообщение пользователя без привязки к Telegram API
type incoming struct {
	ChatID   int64
	UserName string
	Text     string
	Command  string
	Location *geoPoint
}

type geoPoint struct {
	Lat float64
	Lng float64
}

// botReply задаёт текст ответа и клавиатуру: кнопки или запрос геолокации
type botReply struct {
	Text            string
	Buttons         []string
	RequestLocation bool
	RemoveKeyboard  bool
}

// telegramHTTPTimeout больше таймаута long polling в HandleUpdates (60 с)
const telegramHTTPTimeout = 90 * time.Second

type Bot struct {
	api      *tgbotapi.BotAPI
	store    Store
	resolver TimezoneResolver
	units    []string
	adminID  int64
	logger   *slog.Logger

	// mu защищает только карту dialogs, состояние чата охраняет dialog.mu
	mu      sync.Mutex
	dialogs map[int64]*dialog
}

func NewBot(token string, store Store, resolver TimezoneResolver, units []string, adminID int64, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: telegramHTTPTimeout})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create bot")
	}

	logger.Info("Authorized on account", "username", api.Self.UserName)

	descParams := tgbotapi.Params{}
	descParams.AddNonEmpty("description", "Бот-напоминалка о приёме лекарств. Добавь лекарство, дозировку и время — я напомню и подскажу, когда упаковка закончится.")
	if _, err := api.MakeRequest("setMyDescription", descParams); err != nil {
		logger.Warn("Failed to set bot description", "error", err)
	}

	commands := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Запустить бота 🚀"},
		tgbotapi.BotCommand{Command: "add", Description: "Добавить лекарство 💊"},
		tgbotapi.BotCommand{Command: "status", Description: "Показать список лекарств 📋"},
		tgbotapi.BotCommand{Command: "delete", Description: "Удалить лекарство 🗑️"},
		tgbotapi.BotCommand{Command: "timezone", Description: "Изменить часовой пояс 🌍"},
		tgbotapi.BotCommand{Command: "cancel", Description: "Отменить текущее действие"},
	)
	if _, err := api.Request(commands); err != nil {
		logger.Warn("Failed to set bot commands", "error", err)
	}

	if adminID != 0 {
		logger.Info("Admin ID set", "admin_id", adminID)
	}

	b := newBot(store, resolver, units, adminID, logger)
	b.api = api
	return b, nil
}

func newBot(store Store, resolver TimezoneResolver, units []string, adminID int64, logger *slog.Logger) *Bot {
	return &Bot{
		store:    store,
		resolver: resolver,
		units:    units,
		adminID:  adminID,
		logger:   logger,
		dialogs:  make(map[int64]*dialog),
	}
}

// Send реализует Notifier поверх Telegram.
// tgbotapi не принимает контекст, поэтому ожидание ответа ограничено ctx,
// а сам запрос продолжается в фоне и может доставить сообщение позже.
func (b *Bot) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "context is done before sending", goerr.V("chat_id", chatID))
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "failed to send telegram message", goerr.V("chat_id", chatID))
		}
		return nil

	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "telegram did not answer in time", goerr.V("chat_id", chatID))
	}
}

// HandleUpdates читает обновления до отмены контекста
func (b *Bot) HandleUpdates(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil

		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			in := toIncoming(update.Message)
			b.logger.Info("[MSG]", "user", in.UserName, "chat_id", in.ChatID, "text", in.Text, "command", in.Command)

			for _, r := range b.handle(ctx, in) {
				b.reply(in.ChatID, r)
			}
		}
	}
}

func toIncoming(msg *tgbotapi.Message) incoming {
	in := incoming{
		ChatID: msg.Chat.ID,
		Text:   msg.Text,
	}
	if msg.From != nil {
		in.UserName = msg.From.UserName
		if in.UserName == "" {
			in.UserName = msg.From.FirstName
		}
	}
	if msg.IsCommand() {
		in.Command = msg.Command()
	}
	if msg.Location != nil {
		in.Location = &geoPoint{Lat: msg.Location.Latitude, Lng: msg.Location.Longitude}
	}
	return in
}

func (b *Bot) reply(chatID int64, r botReply) {
	msg := tgbotapi.NewMessage(chatID, r.Text)

	switch {
	case r.RequestLocation:
		keyboard := tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonLocation("Отправить мою геолокацию")),
		)
		keyboard.ResizeKeyboard = true
		keyboard.OneTimeKeyboard = true
		msg.ReplyMarkup = keyboard

	case len(r.Buttons) > 0:
		row := make([]tgbotapi.KeyboardButton, len(r.Buttons))
		for i, text := range r.Buttons {
			row[i] = tgbotapi.NewKeyboardButton(text)
		}
		keyboard := tgbotapi.NewReplyKeyboard(row)
		keyboard.ResizeKeyboard = true
		keyboard.OneTimeKeyboard = true
		msg.ReplyMarkup = keyboard

	case r.RemoveKeyboard:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) dialogFor(chatID int64) *dialog {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.dialogs[chatID]
	if !ok {
		d = &dialog{}
		b.dialogs[chatID] = d
	}
	return d
}

// handle содержит всю логику бота, сетевые вызовы Telegram остаются в HandleUpdates
func (b *Bot) handle(ctx context.Context, in incoming) []botReply {
	// медленный ответ хранилища или резолвера задерживает только этот чат
	d := b.dialogFor(in.ChatID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if in.Location != nil {
		d.reset()
		return []botReply{b.handleLocation(ctx, in.ChatID, *in.Location)}
	}

	if in.Command != "" {
		// любая команда прерывает начатый диалог
		d.reset()

		switch in.Command {
		case "start":
			d.step = stepWaitingLocation
			return []botReply{{
				Text: "Привет! Я бот-напоминалка о приеме лекарств.\n" +
					"Пожалуйста, отправьте свою геолокацию, чтобы я мог установить ваш часовой пояс.",
				RequestLocation: true,
			}}
		case "timezone":
			d.step = stepWaitingLocation
			return []botReply{{
				Text:            "Пожалуйста, отправьте свою геолокацию, чтобы установить часовой пояс.",
				RequestLocation: true,
			}}
		case "add":
			return []botReply{b.handleAdd(ctx, in.ChatID, d)}
		case "status":
			return []botReply{b.handleStatus(ctx, in.ChatID)}
		case "delete":
			return []botReply{b.handleDelete(ctx, in.ChatID, d)}
		case "cancel":
			return []botReply{{Text: "Отменено", RemoveKeyboard: true}}
		case "stats":
			return []botReply{b.handleStats(ctx, in.ChatID)}
		}
		return []botReply{unknownReply()}
	}

	switch {
	case d.inAddFlow():
		return []botReply{b.handleAddInput(ctx, in.ChatID, d, in.Text)}
	case d.step == stepWaitingDeleteName:
		d.reset()
		return []botReply{b.handleDeleteName(ctx, in.ChatID, in.Text)}
	case d.step == stepWaitingLocation:
		return []botReply{{Text: "Пожалуйста, отправьте именно геолокацию, используя кнопку 'Отправить мою геолокацию'.", RequestLocation: true}}
	}

	return []botReply{unknownReply()}
}

func unknownReply() botReply {
	return botReply{Text: "Я не понимаю эту команду. Используйте /add, /status, /delete или /timezone."}
}

func (b *Bot) handleLocation(ctx context.Context, chatID int64, p geoPoint) botReply {
	tz, err := b.resolver.Resolve(ctx, p.Lat, p.Lng)
	switch {
	case errors.Is(err, ErrResolverTimeout):
		b.logger.Warn("Timezone resolver timed out", "chat_id", chatID, "error", err)
		return botReply{
			Text:           "Извините, сервис определения часового пояса временно недоступен (timeout). Пожалуйста, попробуйте позже.",
			RemoveKeyboard: true,
		}
	case errors.Is(err, ErrTimezoneNotFound):
		b.logger.Warn("Timezone not found for location", "chat_id", chatID, "error", err)
		return botReply{
			Text:           "Не удалось определить часовой пояс по геолокации. Пожалуйста, попробуйте отправить геолокацию еще раз: /timezone",
			RemoveKeyboard: true,
		}
	case err != nil:
		b.logger.Error("Failed to resolve timezone", "chat_id", chatID, "error", err)
		return botReply{
			Text:           "Произошла ошибка при определении часового пояса. Пожалуйста, попробуйте еще раз позже.",
			RemoveKeyboard: true,
		}
	}

	if err := b.store.SetTimezone(ctx, chatID, tz); err != nil {
		b.logger.Error("Failed to save timezone", "chat_id", chatID, "timezone", tz, "error", err)
		return botReply{Text: "Не удалось сохранить часовой пояс. Пожалуйста, попробуйте позже.", RemoveKeyboard: true}
	}

	b.logger.Info("Timezone set", "chat_id", chatID, "timezone", tz)
	return botReply{
		Text:           fmt.Sprintf("Ваш часовой пояс установлен как: %s. Теперь вы можете использовать команды бота.", tz),
		RemoveKeyboard: true,
	}
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, d *dialog) botReply {
	tz, err := b.store.GetTimezone(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to get timezone", "chat_id", chatID, "error", err)
		return botReply{Text: "Произошла ошибка. Пожалуйста, попробуйте позже."}
	}
	if tz == "" {
		return botReply{Text: "Перед добавлением лекарств, пожалуйста, установите свой часовой пояс, используя команду /start или /timezone и отправив геолокацию."}
	}

	r := d.startAdd()
	return botReply{Text: r.Text, RemoveKeyboard: true}
}

func (b *Bot) handleAddInput(ctx context.Context, chatID int64, d *dialog, text string) botReply {
	r := d.advanceAdd(chatID, text, b.units)
	if r.Created == nil {
		return botReply{Text: r.Text, Buttons: r.Buttons, RemoveKeyboard: len(r.Buttons) == 0}
	}

	id, err := b.store.CreateMedicine(ctx, *r.Created)
	if err != nil {
		b.logger.Error("Failed to create medicine", "chat_id", chatID, "error", err)
		return botReply{Text: "Не удалось сохранить лекарство. Пожалуйста, попробуйте еще раз: /add"}
	}

	b.logger.Info("Medicine created", "chat_id", chatID, "medicine_id", id, "name", r.Created.Name)
	return botReply{Text: r.Text}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) botReply {
	medicines, err := b.store.ListMedicines(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to list medicines", "chat_id", chatID, "error", err)
		return botReply{Text: "Произошла ошибка. Пожалуйста, попробуйте позже."}
	}
	if len(medicines) == 0 {
		return botReply{Text: "У вас пока нет добавленных лекарств. Используйте команду /add для добавления."}
	}

	var text strings.Builder
	text.WriteString("Ваши лекарства:\n")
	for _, m := range medicines {
		fmt.Fprintf(&text, "- %s (дозировка: %s %s), %d доз в упаковке, осталось: %s, время приема: %s\n",
			m.Name, m.DosesString(), m.DoseUnit, m.TotalQuantity, m.RemainingQuantity.String(), m.TimesString())
	}
	return botReply{Text: text.String()}
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64, d *dialog) botReply {
	medicines, err := b.store.ListMedicines(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to list medicines", "chat_id", chatID, "error", err)
		return botReply{Text: "Произошла ошибка. Пожалуйста, попробуйте позже."}
	}
	if len(medicines) == 0 {
		return botReply{Text: "У вас нет добавленных лекарств для удаления. Используйте команду /add, чтобы добавить лекарства."}
	}

	var text strings.Builder
	text.WriteString("Список ваших лекарств для удаления:\n")
	names := make([]string, 0, len(medicines))
	for i, m := range medicines {
		fmt.Fprintf(&text, "%d. %s (дозировка: %s %s)\n", i+1, m.Name, m.DosesString(), m.DoseUnit)
		names = append(names, m.Name)
	}
	text.WriteString("\nВведите название лекарства, которое вы хотите удалить:")

	d.step = stepWaitingDeleteName
	return botReply{Text: text.String(), Buttons: names}
}

func (b *Bot) handleDeleteName(ctx context.Context, chatID int64, name string) botReply {
	name = strings.TrimSpace(name)
	deleted, err := b.store.DeleteMedicineByOwnerAndName(ctx, chatID, name)
	if err != nil {
		b.logger.Error("Failed to delete medicine", "chat_id", chatID, "name", name, "error", err)
		return botReply{Text: "Произошла ошибка при удалении. Пожалуйста, попробуйте позже.", RemoveKeyboard: true}
	}
	if !deleted {
		return botReply{
			Text:           fmt.Sprintf("Не удалось найти и удалить лекарство '%s'. Пожалуйста, убедитесь, что название введено верно и лекарство существует в вашем списке.", name),
			RemoveKeyboard: true,
		}
	}

	b.logger.Info("Medicine deleted by owner", "chat_id", chatID, "name", name)
	return botReply{Text: fmt.Sprintf("Лекарство '%s' успешно удалено из списка напоминаний.", name), RemoveKeyboard: true}
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) botReply {
	// Проверка прав администратора
	if b.adminID != 0 && chatID != b.adminID {
		return botReply{Text: "⛔ Эта команда доступна только администратору"}
	}

	st, err := b.store.Stats(ctx)
	if err != nil {
		b.logger.Error("Failed to get stats", "error", err)
		return botReply{Text: "Произошла ошибка. Пожалуйста, попробуйте позже."}
	}

	return botReply{Text: fmt.Sprintf("📊 Статистика бота:\n\n"+
		"👥 Всего пользователей: %d\n"+
		"🌍 С часовым поясом: %d\n"+
		"💊 Всего лекарств: %d\n"+
		"📦 Суммарный остаток доз: %s",
		st.TotalUsers, st.UsersWithTimezone, st.TotalMedicines, st.TotalRemaining.String())}
}
