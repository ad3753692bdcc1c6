package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// AdaptiveProgress drives a phased operation's progress display. It renders
// a TUI on terminals and timestamped lines everywhere else.
type AdaptiveProgress struct {
	isTTY     bool
	renderer  *lipgloss.Renderer
	program   *tea.Program
	model     adaptiveModel
	output    io.Writer
	logOutput io.Writer
	startTime time.Time
}

// adaptiveModel represents the TUI model for progress indication
type adaptiveModel struct {
	spinner      spinner.Model
	progress     progress.Model
	message      string
	phase        string
	details      string
	percent      float64
	done         bool
	err          error
	showSpinner  bool
	showBar      bool
	phases       []PhaseInfo
	currentPhase int
	startTime    time.Time
}

// PhaseInfo represents one phase of a validation or setup run
type PhaseInfo struct {
	Name        string
	Description string
	Weight      float64 // Relative weight for progress calculation
}

// ValidationStats summarizes a template validation run
type ValidationStats struct {
	Templates         int
	Loaded            int
	Rejected          int
	Labels            int
	RelationshipTypes int
}

// NewAdaptiveProgress creates a new adaptive progress indicator
func NewAdaptiveProgress(output io.Writer) *AdaptiveProgress {
	isTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	var logOutput io.Writer
	if isTTY {
		// In TTY mode, suppress external logging to avoid conflicts with the TUI
		logOutput = io.Discard
	} else {
		logOutput = os.Stderr
	}

	ap := &AdaptiveProgress{
		isTTY:     isTTY,
		renderer:  lipgloss.NewRenderer(output),
		output:    output,
		logOutput: logOutput,
		startTime: time.Now(),
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = ap.getSpinnerStyle()

	progressBar := progress.New(progress.WithDefaultGradient())
	progressBar.ShowPercentage = true
	progressBar.Width = 40

	ap.model = adaptiveModel{
		spinner:     s,
		progress:    progressBar,
		showSpinner: true,
		showBar:     false,
		startTime:   time.Now(),
	}

	return ap
}

// SetPhases defines the phases of the operation for better progress tracking
func (ap *AdaptiveProgress) SetPhases(phases []PhaseInfo) {
	ap.model.phases = phases
	ap.model.currentPhase = 0
	if len(phases) > 0 {
		ap.model.phase = phases[0].Name
		ap.model.showBar = true
	}
}

// Start begins the progress indication
func (ap *AdaptiveProgress) Start(message string) {
	ap.model.message = message

	if ap.isTTY {
		ap.program = tea.NewProgram(&ap.model, tea.WithOutput(ap.output))
		go func() {
			if _, err := ap.program.Run(); err != nil {
				fmt.Fprintf(ap.logOutput, "Progress UI error: %v\n", err)
			}
		}()
		// Give TUI time to initialize
		time.Sleep(50 * time.Millisecond)
	} else {
		ap.logProgress("🚀 " + message)
	}
}

// UpdatePhase moves to the next phase
func (ap *AdaptiveProgress) UpdatePhase(phaseName string) {
	if ap.isTTY && ap.program != nil {
		ap.program.Send(phaseMsg{name: phaseName})
	} else {
		ap.logProgress("📋 " + phaseName)
	}
}

// UpdateProgress updates the progress percentage and details
func (ap *AdaptiveProgress) UpdateProgress(percent float64, details string) {
	if ap.isTTY && ap.program != nil {
		ap.program.Send(progressMsg{percent: percent, details: details})
	} else if details != "" {
		ap.logProgress(fmt.Sprintf("⚡ %.0f%% - %s", percent*100, details))
	}
}

// Success completes with success
func (ap *AdaptiveProgress) Success(message string) {
	duration := time.Since(ap.startTime)
	successMsg := fmt.Sprintf("✅ %s (%.2fs)", message, duration.Seconds())

	if ap.isTTY && ap.program != nil {
		ap.program.Send(doneMsg{success: true, message: successMsg})
		ap.program.Quit()
		time.Sleep(100 * time.Millisecond) // Let TUI finish
	} else {
		ap.logProgress(successMsg)
	}
	ap.displayNextSteps()
}

// SuccessWithStats completes with success and shows the validation summary
func (ap *AdaptiveProgress) SuccessWithStats(message string, stats ValidationStats) {
	duration := time.Since(ap.startTime)
	successMsg := fmt.Sprintf("✅ %s (%.2fs)", message, duration.Seconds())

	if ap.isTTY && ap.program != nil {
		ap.program.Send(doneMsg{success: true, message: successMsg})
		ap.program.Quit()
		time.Sleep(100 * time.Millisecond) // Let TUI finish
	} else {
		ap.logProgress(successMsg)
	}
	ap.displayStats(stats, duration)
}

// displayStats shows the validation summary box
func (ap *AdaptiveProgress) displayStats(stats ValidationStats, duration time.Duration) {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#F9FAFB"}).
		MarginTop(1).
		MarginBottom(1)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}).
		Width(20)

	valueStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#059669", Dark: "#10B981"})

	rejectedStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"})

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.AdaptiveColor{Light: "#D1D5DB", Dark: "#374151"}).
		Padding(1, 2).
		MarginTop(1)

	var content strings.Builder
	content.WriteString(titleStyle.Render("📊 Validation Results"))
	content.WriteString("\n\n")

	content.WriteString(labelStyle.Render("Duration:"))
	content.WriteString(" " + valueStyle.Render(fmt.Sprintf("%.2fs", duration.Seconds())) + "\n\n")

	content.WriteString(labelStyle.Render("Templates:"))
	content.WriteString(" " + valueStyle.Render(fmt.Sprintf("%d", stats.Templates)) + "\n")

	content.WriteString(labelStyle.Render("Loaded:"))
	content.WriteString(" " + valueStyle.Render(fmt.Sprintf("%d", stats.Loaded)) + "\n")

	content.WriteString(labelStyle.Render("Rejected:"))
	if stats.Rejected > 0 {
		content.WriteString(" " + rejectedStyle.Render(fmt.Sprintf("%d", stats.Rejected)) + "\n\n")
	} else {
		content.WriteString(" " + valueStyle.Render("0") + "\n\n")
	}

	content.WriteString(labelStyle.Render("Node Labels:"))
	content.WriteString(" " + valueStyle.Render(fmt.Sprintf("%d", stats.Labels)) + "\n")

	content.WriteString(labelStyle.Render("Relationship Types:"))
	content.WriteString(" " + valueStyle.Render(fmt.Sprintf("%d", stats.RelationshipTypes)) + "\n")

	fmt.Fprintf(ap.output, "%s\n", boxStyle.Render(content.String()))

	ap.displayNextSteps()
}

// displayNextSteps prints follow-up hints after a successful run
func (ap *AdaptiveProgress) displayNextSteps() {
	nextStepsStyle := lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#6366F1", Dark: "#8B5CF6"}).
		MarginTop(1)

	fmt.Fprintf(ap.output, "%s\n", nextStepsStyle.Render("💡 Next steps:"))
	fmt.Fprintf(ap.output, "   • Run 'mnemo serve-mcp' to expose the loaded templates over MCP\n")
	fmt.Fprintf(ap.output, "   • Run 'mnemo templates list' to inspect template states\n")
	fmt.Fprintf(ap.output, "   • View your graph at http://localhost:7474 (Neo4j Browser)\n")
}

// Error completes with error
func (ap *AdaptiveProgress) Error(err error) {
	duration := time.Since(ap.startTime)
	errorMsg := fmt.Sprintf("❌ Failed after %.2fs: %v", duration.Seconds(), err)

	if ap.isTTY && ap.program != nil {
		ap.program.Send(doneMsg{success: false, message: errorMsg, err: err})
		ap.program.Quit()
		time.Sleep(100 * time.Millisecond) // Let TUI finish
	} else {
		ap.logProgress(errorMsg)
	}
}

// logProgress outputs progress to non-TTY terminals
func (ap *AdaptiveProgress) logProgress(message string) {
	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(ap.output, "[%s] %s\n", timestamp, message)
}

func (ap *AdaptiveProgress) getSpinnerStyle() lipgloss.Style {
	return ap.renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#8B5CF6",
		Dark:  "#A78BFA",
	})
}

// Messages for the TUI
type phaseMsg struct {
	name string
}

type progressMsg struct {
	percent float64
	details string
}

type doneMsg struct {
	success bool
	message string
	err     error
}

// Bubbletea Model Implementation
func (m *adaptiveModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *adaptiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case phaseMsg:
		m.phase = msg.name
		for i, phase := range m.phases {
			if phase.Name == msg.name {
				m.currentPhase = i
				break
			}
		}
		return m, nil

	case progressMsg:
		m.percent = msg.percent
		m.details = msg.details
		if m.showBar {
			progressCmd := m.progress.SetPercent(msg.percent)
			return m, progressCmd
		}
		return m, nil

	case doneMsg:
		m.done = true
		m.message = msg.message
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	default:
		if m.showBar {
			progressModel, progressCmd := m.progress.Update(msg)
			if progressBar, ok := progressModel.(progress.Model); ok {
				m.progress = progressBar
			}
			return m, progressCmd
		}
	}

	return m, nil
}

func (m *adaptiveModel) View() string {
	if m.done {
		var style lipgloss.Style
		if m.err != nil {
			style = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{
				Light: "#DC2626",
				Dark:  "#F87171",
			})
		} else {
			style = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{
				Light: "#059669",
				Dark:  "#10B981",
			})
		}
		return style.Render(m.message)
	}

	var parts []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{
		Light: "#1F2937",
		Dark:  "#F9FAFB",
	})

	phaseStyle := lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#6B7280",
		Dark:  "#9CA3AF",
	})

	detailsStyle := lipgloss.NewStyle().Faint(true).Foreground(lipgloss.AdaptiveColor{
		Light: "#9CA3AF",
		Dark:  "#6B7280",
	})

	if m.showSpinner {
		title := lipgloss.JoinHorizontal(lipgloss.Left,
			m.spinner.View(),
			" ",
			titleStyle.Render(m.message),
		)
		parts = append(parts, title)
	} else {
		parts = append(parts, titleStyle.Render(m.message))
	}

	if m.phase != "" {
		parts = append(parts, phaseStyle.Render("→ "+m.phase))
	}

	if m.showBar && len(m.phases) > 0 {
		progressView := m.progress.View()
		phaseInfo := fmt.Sprintf("Phase %d/%d", m.currentPhase+1, len(m.phases))

		progressLine := lipgloss.JoinHorizontal(lipgloss.Left,
			progressView,
			" ",
			phaseStyle.Render(phaseInfo),
		)
		parts = append(parts, progressLine)
	}

	if m.details != "" {
		parts = append(parts, detailsStyle.Render("  "+m.details))
	}

	elapsed := time.Since(m.startTime)
	timeInfo := detailsStyle.Render(fmt.Sprintf("  Elapsed: %.1fs", elapsed.Seconds()))
	parts = append(parts, timeInfo)

	return strings.Join(parts, "\n")
}
