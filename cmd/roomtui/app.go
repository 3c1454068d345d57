package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"streamroom/internal/chatlog"
	"streamroom/internal/models"
	"streamroom/internal/room"
)

// giftCatalog is the stock of gifts sendable from the terminal, keyed by the
// /gift command argument.
var giftCatalog = map[string]models.GiftDescriptor{
	"rose":     {ID: "rose", Name: "Rose", Price: 10, AnimationKind: models.AnimationKindSparkle},
	"rocket":   {ID: "rocket", Name: "Rocket", Price: 200, AnimationKind: models.AnimationKindBurst},
	"parade":   {ID: "parade", Name: "Parade", Price: 500, AnimationKind: models.AnimationKindParade},
	"firework": {ID: "firework", Name: "Firework", Price: 1000, AnimationKind: models.AnimationKindFirework, AutoFollow: true},
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selfStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	fanStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	laneStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type refreshTickMsg time.Time

type viewLoadedMsg struct {
	view room.View
	err  error
}

type statusMsg struct {
	text    string
	failure bool
}

func refreshTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

// app is the root Bubbletea model.
type app struct {
	room   *room.Room
	view   room.View
	loaded bool

	input  string
	status string
	failed bool
	width  int
	height int
}

func newApp(r *room.Room) app {
	return app{room: r}
}

func (a app) Init() tea.Cmd {
	return tea.Batch(a.loadView(), refreshTickCmd())
}

func (a app) loadView() tea.Cmd {
	r := a.room
	return func() tea.Msg {
		view, err := r.View()
		return viewLoadedMsg{view: view, err: err}
	}
}

func (a app) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case refreshTickMsg:
		return a, tea.Batch(a.loadView(), refreshTickCmd())

	case viewLoadedMsg:
		if msg.err != nil {
			if errors.Is(msg.err, room.ErrRoomClosed) {
				return a, tea.Quit
			}
			return a, nil
		}
		a.view = msg.view
		a.loaded = true
		return a, a.markVisibleCmd(msg.view)

	case statusMsg:
		a.status = msg.text
		a.failed = msg.failure
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a app) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return a, tea.Quit
	case tea.KeyEnter:
		line := strings.TrimSpace(a.input)
		a.input = ""
		if line == "" {
			return a, nil
		}
		return a, a.submit(line)
	case tea.KeyBackspace:
		if len(a.input) > 0 {
			runes := []rune(a.input)
			a.input = string(runes[:len(runes)-1])
		}
		return a, nil
	case tea.KeyTab:
		a.input = a.completeMention(a.input)
		return a, nil
	case tea.KeySpace:
		a.input += " "
		return a, nil
	case tea.KeyRunes:
		a.input += string(msg.Runes)
		return a, nil
	}
	return a, nil
}

// submit turns an input line into a room action: "/gift <name> [qty]" sends a
// gift, anything else is a chat message.
func (a app) submit(line string) tea.Cmd {
	r := a.room
	gift, quantity, isGift, err := parseGiftCommand(line)
	if err != nil {
		return func() tea.Msg {
			return statusMsg{text: err.Error(), failure: true}
		}
	}
	if isGift {
		return func() tea.Msg {
			switch err := r.SendGift(gift, quantity); {
			case errors.Is(err, room.ErrInsufficientFunds):
				return statusMsg{text: "not enough diamonds, top up first", failure: true}
			case err != nil:
				return statusMsg{text: err.Error(), failure: true}
			default:
				return statusMsg{text: fmt.Sprintf("sent %dx %s", quantity, gift.Name)}
			}
		}
	}
	return func() tea.Msg {
		if err := r.SendChatMessage(line); err != nil {
			return statusMsg{text: err.Error(), failure: true}
		}
		return statusMsg{}
	}
}

// parseGiftCommand recognises "/gift <name> [qty]" against the catalog.
func parseGiftCommand(line string) (models.GiftDescriptor, int, bool, error) {
	if !strings.HasPrefix(line, "/gift") {
		return models.GiftDescriptor{}, 0, false, nil
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return models.GiftDescriptor{}, 0, true, fmt.Errorf("usage: /gift <name> [qty]")
	}
	gift, ok := giftCatalog[strings.ToLower(fields[1])]
	if !ok {
		names := make([]string, 0, len(giftCatalog))
		for name := range giftCatalog {
			names = append(names, name)
		}
		return models.GiftDescriptor{}, 0, true, fmt.Errorf("unknown gift %q (have: %s)", fields[1], strings.Join(names, ", "))
	}
	quantity := 1
	if len(fields) > 2 {
		parsed, err := strconv.Atoi(fields[2])
		if err != nil || parsed <= 0 {
			return models.GiftDescriptor{}, 0, true, fmt.Errorf("quantity must be a positive number")
		}
		quantity = parsed
	}
	return gift, quantity, true, nil
}

// completeMention expands a trailing @-prefix against the presence set.
func (a app) completeMention(input string) string {
	idx := strings.LastIndex(input, "@")
	if idx < 0 {
		return input
	}
	prefix := input[idx:]
	matches, err := a.room.Mentions(prefix, 1)
	if err != nil || len(matches) == 0 {
		return input
	}
	return input[:idx] + "@" + matches[0].DisplayName + " "
}

// markVisibleCmd reports displayed chat lines for read receipts.
func (a app) markVisibleCmd(view room.View) tea.Cmd {
	r := a.room
	var ids []string
	for _, event := range visibleEvents(view.Events, a.chatHeight()) {
		if event.Kind == chatlog.KindChat && event.Chat != nil && !event.Chat.Read {
			ids = append(ids, event.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return func() tea.Msg {
		_ = r.MarkVisible(ids...)
		return nil
	}
}

func (a app) chatHeight() int {
	// Chrome: header(1) + lanes(4) + status(1) + input(1).
	height := a.height - 7
	if height < 5 {
		height = 5
	}
	return height
}

func visibleEvents(events []chatlog.Event, height int) []chatlog.Event {
	if len(events) > height {
		return events[len(events)-height:]
	}
	return events
}

func (a app) View() string {
	if !a.loaded {
		return dimStyle.Render("joining room...")
	}
	var b strings.Builder
	b.WriteString(a.renderHeader())
	b.WriteString("\n")
	b.WriteString(a.renderLanes())
	b.WriteString("\n")
	for _, event := range visibleEvents(a.view.Events, a.chatHeight()) {
		b.WriteString(renderEvent(event))
		b.WriteString("\n")
	}
	if a.status != "" {
		style := dimStyle
		if a.failed {
			style = failStyle
		}
		b.WriteString(style.Render(a.status))
	}
	b.WriteString("\n> ")
	b.WriteString(a.input)
	return b.String()
}

func (a app) renderHeader() string {
	title := a.view.Room.HostName
	if title == "" {
		title = a.view.Room.ID
	}
	parts := []string{
		headerStyle.Render(title),
		fmt.Sprintf("%d watching", a.view.ViewerCount),
		fmt.Sprintf("%s diamonds", a.view.Self.Balance),
	}
	for i, entry := range a.view.TopContributors {
		parts = append(parts, dimStyle.Render(
			fmt.Sprintf("#%d %s(%s)", i+1, entry.User.DisplayName, entry.Contribution)))
	}
	return strings.Join(parts, "  ")
}

func (a app) renderLanes() string {
	var lines []string
	if current := a.view.Current; current != nil {
		label := fmt.Sprintf("NOW %s -> %s: %dx %s",
			current.Sender.DisplayName, current.ReceiverName, current.Quantity, current.Gift.Name)
		lines = append(lines, laneStyle.Render(label))
	}
	if notice := a.view.LatestNotice; notice != nil {
		lines = append(lines, noticeStyle.Render(
			fmt.Sprintf("%s sent %dx %s", notice.SenderName, notice.Quantity, notice.Gift.Name)))
	}
	if len(a.view.History) > 0 {
		recaps := make([]string, 0, len(a.view.History))
		for _, item := range a.view.History {
			recaps = append(recaps, fmt.Sprintf("%dx %s", item.Quantity, item.Gift.Name))
		}
		lines = append(lines, dimStyle.Render("recent: "+strings.Join(recaps, ", ")))
	}
	if len(lines) == 0 {
		return dimStyle.Render("no gifts yet")
	}
	return strings.Join(lines, "\n")
}

func renderEvent(event chatlog.Event) string {
	switch event.Kind {
	case chatlog.KindChat:
		line := event.Chat
		name := line.AuthorName
		style := lipgloss.NewStyle()
		if line.Self {
			style = selfStyle
			switch line.Status {
			case models.SendStatusSending:
				name += " ..."
			case models.SendStatusFailed:
				style = failStyle
				name += " !"
			}
		}
		text := line.Text
		if line.Translated != "" {
			text += dimStyle.Render(" ("+line.Translated+")")
		}
		return style.Render(name+":") + " " + text
	case chatlog.KindEntry:
		return dimStyle.Render(event.Entry.User.DisplayName + " joined")
	case chatlog.KindFanEntry:
		return fanStyle.Render(fmt.Sprintf("%s joined (fan lv.%d)",
			event.Entry.User.DisplayName, event.Entry.FanLevel))
	case chatlog.KindFollow:
		return dimStyle.Render(event.Follow.FollowerName + " followed " + event.Follow.FollowedName)
	case chatlog.KindFriendRequest:
		return noticeStyle.Render(event.FriendRequest.FollowerName + " wants to be friends")
	case chatlog.KindGiftNote:
		note := event.GiftNote
		style := noticeStyle
		if note.Self {
			style = selfStyle
		}
		return style.Render(fmt.Sprintf("%s sent %dx %s", note.SenderName, note.Quantity, note.GiftName))
	}
	return ""
}
