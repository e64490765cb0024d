package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/domain/inspection"
	"fleetinspect/internal/domain/syncqueue"
	"fleetinspect/internal/ports"
	"fleetinspect/internal/usecase/inspector"
	"fleetinspect/internal/usecase/syncengine"
)

const maxFailedShown = 5
const maxAuditLines = 6

type Inspections interface {
	List(ctx context.Context, states []inspection.SyncState) ([]inspector.ListItem, error)
}

type Syncer interface {
	Drain(ctx context.Context) (syncengine.DrainReport, error)
	PullAssignments(ctx context.Context) (syncengine.PullReport, error)
	ResurfaceFailed(ctx context.Context) (int, error)
	Queue(ctx context.Context, filter ports.QueueFilter) ([]syncqueue.Entry, ports.QueueStats, error)
}

type Options struct {
	InspectorID     string
	RefreshInterval time.Duration
}

type inspectorModel struct {
	ctx             context.Context
	inspections     Inspections
	syncer          Syncer
	inspectorID     string
	refreshInterval time.Duration

	items         []inspector.ListItem
	stats         ports.QueueStats
	failed        []syncqueue.Entry
	selectedIndex int
	busy          bool
	status        string
	auditLogs     []string
}

type snapshotMsg struct {
	items  []inspector.ListItem
	stats  ports.QueueStats
	failed []syncqueue.Entry
	err    error
}

type tickMsg struct{}

type actionDoneMsg struct {
	action string
	result string
	err    error
}

func NewInspectorModel(ctx context.Context, inspections Inspections, syncer Syncer, options Options) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &inspectorModel{
		ctx:             ctx,
		inspections:     inspections,
		syncer:          syncer,
		inspectorID:     strings.TrimSpace(options.InspectorID),
		refreshInterval: interval,
		status:          "loading",
	}
}

func (m *inspectorModel) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), m.tickCmd())
}

func (m *inspectorModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadCmd(), m.tickCmd())
	case snapshotMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.items = msg.items
		m.stats = msg.stats
		m.failed = msg.failed
		if m.selectedIndex >= len(m.items) {
			m.selectedIndex = len(m.items) - 1
		}
		if m.selectedIndex < 0 {
			m.selectedIndex = 0
		}
		if !m.busy {
			m.status = fmt.Sprintf("%d inspections, %d queued", len(m.items), m.stats.Pending+m.stats.InFlight)
		}
		return m, nil
	case actionDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.status = fmt.Sprintf("%s: %s", msg.action, msg.result)
		}
		m.appendAuditLog(msg.action, msg.result, msg.err)
		return m, m.loadCmd()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadCmd()
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
			}
			return m, nil
		case "down", "j":
			if m.selectedIndex < len(m.items)-1 {
				m.selectedIndex++
			}
			return m, nil
		case "s":
			return m, m.actionCmd("sync", m.drain)
		case "p":
			return m, m.actionCmd("pull", m.pull)
		case "r":
			return m, m.actionCmd("resurface", m.resurface)
		}
	}
	return m, nil
}

func (m *inspectorModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("Fleet Inspection Console"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf("inspector=%s refresh=%s", firstNonEmpty(m.inspectorID, "-"), m.refreshInterval)))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Inspections"))
	builder.WriteString("\n")
	if len(m.items) == 0 {
		builder.WriteString(dimStyle.Render("- no inspections"))
		builder.WriteString("\n")
	}
	for index, item := range m.items {
		line := inspectionLine(item)
		if index == m.selectedIndex {
			builder.WriteString(selectedStyle.Render("> " + line))
		} else {
			builder.WriteString("  " + line)
		}
		builder.WriteString("\n")
	}
	builder.WriteString("\n")

	builder.WriteString(sectionStyle.Render("Sync Queue"))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("pending=%d in_flight=%d failed=%d\n", m.stats.Pending, m.stats.InFlight, m.stats.Failed))
	shown := m.failed
	if len(shown) > maxFailedShown {
		shown = shown[:maxFailedShown]
	}
	for _, entry := range shown {
		builder.WriteString(failStyle.Render(fmt.Sprintf("- #%d %s %s attempts=%d %s", entry.ID, entry.Kind, entry.Ref, entry.Attempts, firstNonEmpty(entry.LastError, "-"))))
		builder.WriteString("\n")
	}
	if extra := len(m.failed) - len(shown); extra > 0 {
		builder.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more failed", extra)))
		builder.WriteString("\n")
	}
	builder.WriteString("\n")

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n- " + firstNonEmpty(m.status, "ready") + "\n\n")

	if len(m.auditLogs) > 0 {
		builder.WriteString(sectionStyle.Render("Recent Actions"))
		builder.WriteString("\n")
		for _, line := range m.auditLogs {
			builder.WriteString("- " + line + "\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(dimStyle.Render("Keys: ↑/k ↓/j move  s sync now  p pull  r resurface failed  g refresh  q quit"))
	return builder.String()
}

func inspectionLine(item inspector.ListItem) string {
	insp := item.Inspection
	plate := firstNonEmpty(insp.SystemPlate, "-")
	if insp.Discrepancy {
		plate += "!"
	}
	score := fmt.Sprintf("live=%d %s", item.Outcome.Score, item.Outcome.Result)
	if insp.Score != nil {
		score = fmt.Sprintf("score=%d %s", *insp.Score, insp.Result)
	}
	line := fmt.Sprintf("%-10s %-14s %-24s %s", plate, insp.SyncState, score, firstNonEmpty(insp.ClientName, insp.ClientRef))
	if insp.ReviewState != "" {
		line += " review=" + insp.ReviewState
	}
	return line
}

func (m *inspectorModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *inspectorModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		items, err := m.inspections.List(m.ctx, nil)
		if err != nil {
			return snapshotMsg{err: err}
		}
		failed, _, err := m.syncer.Queue(m.ctx, ports.QueueFilter{Statuses: []syncqueue.Status{syncqueue.StatusFailed}})
		if err != nil {
			return snapshotMsg{err: err}
		}
		_, stats, err := m.syncer.Queue(m.ctx, ports.QueueFilter{})
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{items: items, stats: stats, failed: failed}
	}
}

func (m *inspectorModel) actionCmd(action string, run func() (string, error)) tea.Cmd {
	if m.busy {
		m.status = "another action is running"
		return nil
	}
	m.busy = true
	m.status = action + " running..."
	return func() tea.Msg {
		result, err := run()
		return actionDoneMsg{action: action, result: result, err: err}
	}
}

func (m *inspectorModel) drain() (string, error) {
	report, err := m.syncer.Drain(m.ctx)
	if err != nil {
		return "", err
	}
	if report.Skipped {
		return "a drain is already running", nil
	}
	return fmt.Sprintf("sent=%d retry=%d failed=%d deferred=%d", report.Succeeded, report.Retried, report.Failed, report.Deferred), nil
}

func (m *inspectorModel) pull() (string, error) {
	report, err := m.syncer.PullAssignments(m.ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("created=%d refreshed=%d applied=%d reopened=%d removed=%d", report.Created, report.Refreshed, report.Applied, report.Reopened, report.Removed), nil
}

func (m *inspectorModel) resurface() (string, error) {
	n, err := m.syncer.ResurfaceFailed(m.ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d entries requeued", n), nil
}

func (m *inspectorModel) appendAuditLog(action string, result string, opErr error) {
	outcome := strings.TrimSpace(result)
	if opErr != nil {
		outcome = "error: " + opErr.Error()
	}
	timestamp := time.Now().UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s %s %s", timestamp, action, firstNonEmpty(outcome, "ok"))
	m.auditLogs = append([]string{line}, m.auditLogs...)
	if len(m.auditLogs) > maxAuditLines {
		m.auditLogs = m.auditLogs[:maxAuditLines]
	}

	logging.Info(m.ctx, "console action",
		slog.String("inspector_id", m.inspectorID),
		slog.String("action", action),
		slog.String("result", outcome),
	)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if normalized := strings.TrimSpace(value); normalized != "" {
			return normalized
		}
	}
	return ""
}
