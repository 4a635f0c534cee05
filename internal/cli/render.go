package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/povchingiz/google-meet-recording/internal/client"
	"github.com/povchingiz/google-meet-recording/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func statusStyle(status string) lipgloss.Style {
	s := model.SessionStatus(status)
	switch {
	case s == model.SessionCompleted:
		return okStyle
	case s.Failed():
		return errorStyle
	case s == model.SessionQueued:
		return pendingStyle
	default:
		return activeStyle
	}
}

func renderStatus(status string) string {
	return statusStyle(status).Render(status)
}

// writeStructured handles the json and yaml output modes. It reports false
// for table output so the caller renders its own view.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return true, enc.Encode(v)
	default:
		return false, nil
	}
}

func printStatus(w io.Writer, st client.Status) {
	fmt.Fprintln(w, headerStyle.Render("Session ")+idStyle.Render(st.SessionID))
	row := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-15s", label)), value)
	}
	row("status", renderStatus(st.Status))
	row("recording_file", deref(st.RecordingFile))
	row("drive_link", deref(st.DriveLink))
	if st.ErrorMessage != nil {
		row("error_message", errorStyle.Render(*st.ErrorMessage))
	}
	row("created_at", st.CreatedAt)
	row("updated_at", st.UpdatedAt)
}

func printSessions(w io.Writer, sessions []model.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, headerStyle.Render("No sessions"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d session(s)", len(sessions))))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, titleStyle.Render("ID")+"\t"+titleStyle.Render("Status")+"\t"+titleStyle.Render("Meeting")+"\t"+titleStyle.Render("Minutes")+"\t"+titleStyle.Render("Created"))
	_, _ = fmt.Fprintln(tw, strings.Repeat("─", 90))
	for _, s := range sessions {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			idStyle.Render(s.ID),
			renderStatus(string(s.Status)),
			s.MeetingCode,
			s.DurationMinutes,
			labelStyle.Render(s.CreatedAt.Local().Format("Jan 02 15:04")),
		)
	}
	_ = tw.Flush()
}

func deref(v *string) string {
	if v == nil {
		return labelStyle.Render("-")
	}
	return *v
}
