// Package tui is the terminal presentation layer. It issues bridge commands
// and reacts to bridge notifications; messages and node telemetry flowing
// through it are persisted to the local cache.
package tui

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jdenoy/meshdeck/pkg/bridge"
	"github.com/jdenoy/meshdeck/pkg/models"
	"github.com/jdenoy/meshdeck/pkg/store"
)

// Options wires the TUI to the rest of the client.
type Options struct {
	Bridge *bridge.Bridge
	Stores *store.Stores
	// HistoryLimit caps how many cached messages are loaded per channel.
	HistoryLimit int
	// RefreshInterval drives the periodic node refresh while connected.
	RefreshInterval time.Duration
	// Host and Port are dialed on startup when Host is non-empty.
	Host string
	Port int
	Log  *slog.Logger
}

type view int

const (
	viewMessages view = iota
	viewNodes
)

type bridgeEventMsg struct {
	ev bridge.Event
}

type eventsClosedMsg struct{}

type refreshTickMsg struct{}

type model struct {
	opts Options
	sub  *bridge.Subscriber
	log  *slog.Logger

	view    view
	width   int
	height  int
	status  string
	errText string

	myNodeID string
	nodes    []*models.NodeEntry
	channels []models.Channel

	channelIdx int
	messages   []*models.Message
	input      textinput.Model

	styles styles
}

type styles struct {
	header   lipgloss.Style
	status   lipgloss.Style
	errLine  lipgloss.Style
	outgoing lipgloss.Style
	incoming lipgloss.Style
	dim      lipgloss.Style
}

func newStyles() styles {
	return styles{
		header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("57")).Padding(0, 1),
		status:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		errLine:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		outgoing: lipgloss.NewStyle().Foreground(lipgloss.Color("51")),
		incoming: lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		dim:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// Run starts the terminal UI and blocks until the user quits.
func Run(opts Options) error {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}

	m := model{
		opts:   opts,
		sub:    opts.Bridge.Subscribe(),
		log:    opts.Log.With("component", "tui"),
		status: "disconnected",
		styles: newStyles(),
	}
	m.input = textinput.New()
	m.input.Placeholder = "Type a message..."
	m.input.CharLimit = 200
	m.input.Focus()
	m.loadCachedState()

	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	opts.Bridge.Unsubscribe(m.sub)
	return err
}

// loadCachedState shows the last known mesh before any connection exists.
func (m *model) loadCachedState() {
	if nodes, err := m.opts.Stores.Nodes.LoadAll(); err == nil {
		m.nodes = nodes
	} else {
		m.log.Error("loading cached nodes", "error", err)
	}
	m.loadHistory()
}

func (m *model) loadHistory() {
	msgs, err := m.opts.Stores.Messages.LoadChannel(m.channelIdx, m.opts.HistoryLimit)
	if err != nil {
		m.log.Error("loading message history", "channel", m.channelIdx, "error", err)
		return
	}
	m.messages = msgs
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.waitForEvent(), textinput.Blink}
	if m.opts.Host != "" {
		host, port := m.opts.Host, m.opts.Port
		b := m.opts.Bridge
		cmds = append(cmds, func() tea.Msg {
			b.Connect(host, port)
			return nil
		})
	}
	return tea.Batch(cmds...)
}

func (m model) waitForEvent() tea.Cmd {
	sub := m.sub
	return func() tea.Msg {
		ev, ok := <-sub.Events()
		if !ok {
			return eventsClosedMsg{}
		}
		return bridgeEventMsg{ev: ev}
	}
}

func refreshTick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case bridgeEventMsg:
		cmd := m.handleEvent(msg.ev)
		return m, tea.Batch(m.waitForEvent(), cmd)

	case eventsClosedMsg:
		return m, tea.Quit

	case refreshTickMsg:
		if !m.opts.Bridge.IsConnected() {
			// The timer stops on leaving the connected state and is
			// re-armed by the next Connected event.
			return m, nil
		}
		m.opts.Bridge.RefreshNodes()
		return m, refreshTick(m.opts.RefreshInterval)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "tab":
		if m.view == viewMessages {
			m.view = viewNodes
		} else {
			m.view = viewMessages
		}
		return m, nil
	case "left", "right":
		if m.view != viewMessages || len(m.channels) == 0 {
			break
		}
		dir := 1
		if msg.String() == "left" {
			dir = -1
		}
		m.channelIdx = m.nextChannel(dir)
		m.loadHistory()
		return m, nil
	case "enter":
		if m.view != viewMessages {
			break
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.opts.Bridge.SendText(text, "", m.channelIdx)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// nextChannel cycles through enabled channel slots.
func (m *model) nextChannel(dir int) int {
	idxs := []int{}
	for _, ch := range m.channels {
		if ch.Enabled() {
			idxs = append(idxs, ch.Index)
		}
	}
	if len(idxs) == 0 {
		return m.channelIdx
	}
	sort.Ints(idxs)
	cur := 0
	for i, idx := range idxs {
		if idx == m.channelIdx {
			cur = i
			break
		}
	}
	return idxs[(cur+dir+len(idxs))%len(idxs)]
}

func (m *model) handleEvent(ev bridge.Event) tea.Cmd {
	switch ev := ev.(type) {
	case bridge.Connected:
		m.myNodeID = ev.NodeID
		m.status = fmt.Sprintf("connected as %s (%s)", ev.NodeID, ev.NodeName)
		m.errText = ""
		return refreshTick(m.opts.RefreshInterval)

	case bridge.Disconnected:
		m.status = "disconnected"

	case bridge.ConnectionError:
		m.status = "disconnected"
		m.errText = ev.Message

	case bridge.MessageReceived:
		m.storeMessage(ev.Message)
		if ev.Message.ChannelIndex == m.channelIdx {
			m.messages = append(m.messages, ev.Message)
		}

	case bridge.MessageSent:
		m.storeMessage(ev.Message)
		if ev.Message.ChannelIndex == m.channelIdx {
			m.messages = append(m.messages, ev.Message)
		}

	case bridge.NodesUpdated:
		for _, n := range ev.Nodes {
			if err := m.opts.Stores.Nodes.Upsert(n); err != nil {
				m.log.Error("caching node", "node", n.NodeID, "error", err)
			}
		}
		m.nodes = ev.Nodes

	case bridge.NodeUpdated:
		if err := m.opts.Stores.Nodes.Upsert(ev.Node); err != nil {
			m.log.Error("caching node", "node", ev.Node.NodeID, "error", err)
		}
		m.mergeNode(ev.Node)

	case bridge.ChannelsLoaded:
		m.channels = ev.Channels

	case bridge.ConfigLoaded:
		m.status = fmt.Sprintf("config section %q loaded", ev.Name)
	}
	return nil
}

func (m *model) storeMessage(msg *models.Message) {
	if _, err := m.opts.Stores.Messages.Save(msg); err != nil {
		m.log.Error("persisting message", "error", err)
	}
}

func (m *model) mergeNode(n *models.NodeEntry) {
	for i, cur := range m.nodes {
		if cur.NodeID == n.NodeID {
			m.nodes[i] = n
			return
		}
	}
	m.nodes = append(m.nodes, n)
}

func (m model) View() string {
	var b strings.Builder
	title := "meshdeck - messages"
	if m.view == viewNodes {
		title = "meshdeck - nodes"
	}
	b.WriteString(m.styles.header.Render(title))
	b.WriteString("\n")

	if m.view == viewMessages {
		b.WriteString(m.viewMessages())
	} else {
		b.WriteString(m.viewNodes())
	}

	b.WriteString("\n")
	b.WriteString(m.styles.status.Render(m.status))
	if m.errText != "" {
		b.WriteString("  ")
		b.WriteString(m.styles.errLine.Render(m.errText))
	}
	b.WriteString("\n")
	b.WriteString(m.styles.dim.Render("tab: switch view • ←/→: channel • enter: send • esc: quit"))
	return b.String()
}

func (m model) viewMessages() string {
	var b strings.Builder
	b.WriteString(m.styles.dim.Render(fmt.Sprintf("channel %d %s", m.channelIdx, m.channelName())))
	b.WriteString("\n\n")

	rows := m.messages
	if visible := m.height - 8; visible > 0 && len(rows) > visible {
		rows = rows[len(rows)-visible:]
	}
	for _, msg := range rows {
		ts := msg.Received().Format("15:04:05")
		if msg.IsOutgoing {
			b.WriteString(m.styles.outgoing.Render(fmt.Sprintf("[%s] You: %s", ts, msg.Text)))
		} else {
			sender := msg.FromName
			if sender == "" {
				sender = msg.FromID
			}
			b.WriteString(m.styles.incoming.Render(fmt.Sprintf("[%s] %s: %s", ts, sender, msg.Text)))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

func (m model) channelName() string {
	for _, ch := range m.channels {
		if ch.Index == m.channelIdx {
			if name := ch.DisplayName(); name != "" {
				return "(" + name + ")"
			}
			return ""
		}
	}
	return ""
}

func (m model) viewNodes() string {
	var b strings.Builder
	b.WriteString(m.styles.dim.Render(fmt.Sprintf("%-10s %-24s %-12s %7s %7s %s", "ID", "NAME", "HARDWARE", "BATT", "SNR", "LAST HEARD")))
	b.WriteString("\n")
	for _, n := range m.nodes {
		batt, snr, heard := "-", "-", "-"
		if n.BatteryLevel != nil {
			batt = fmt.Sprintf("%d%%", *n.BatteryLevel)
		}
		if n.Snr != nil {
			snr = fmt.Sprintf("%.1f", *n.Snr)
		}
		if n.LastHeard != nil {
			heard = time.Unix(int64(*n.LastHeard), 0).Format("15:04:05")
		}
		line := fmt.Sprintf("%-10s %-24s %-12s %7s %7s %s", n.NodeID, n.DisplayName(), n.HwModel, batt, snr, heard)
		if n.NodeID == m.myNodeID {
			b.WriteString(m.styles.outgoing.Render(line))
		} else {
			b.WriteString(m.styles.incoming.Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}
