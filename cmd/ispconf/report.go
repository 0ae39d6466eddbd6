package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	ispconfig "github.com/menta2k/isp-configurator"
	"github.com/menta2k/isp-configurator/pkg/graph"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	sinkStyle   = cellStyle.Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// renderReport formats the committed geometry of c after res.
func renderReport(c *ispconfig.Configurator, res ispconfig.Result) string {
	g := c.Graph()

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s (%s) %s", g.Name, g.Variant, g.Sensor)))
	b.WriteString("\n")
	field := func(name, value string) {
		b.WriteString(labelStyle.Render(name+":") + " " + value + "\n")
	}
	field("session", c.SessionID())
	field("trace", res.TraceID)
	field("sensor roi", res.SensorRoi.String())
	field("reconfigure", strconv.FormatBool(res.KeyResolutionChanged))
	if res.Fragments != nil {
		field("stripes", strconv.Itoa(res.Fragments.Count))
	}

	b.WriteString(stageTable(g))
	b.WriteString("\n")

	if res.Fragments != nil {
		for _, n := range res.Fragments.Narrow {
			s := g.Stage(n.Stage)
			name := n.Stage.String()
			if s != nil {
				name = s.Name
			}
			b.WriteString(warnStyle.Render(fmt.Sprintf("narrow stripe: %s #%d is %d px", name, n.Index, n.Width)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func stageTable(g *graph.Graph) string {
	sinks := make(map[graph.StageID]string)
	for _, p := range g.Purposes() {
		sinks[g.Sinks[p]] = string(p)
	}
	sinks[g.MainSink] = "main"

	rows := make([][]string, 0, len(g.Stages))
	for i := range g.Stages {
		s := &g.Stages[i]
		name := s.Name
		if p, ok := sinks[s.ID]; ok {
			name += " [" + p + "]"
		}
		rows = append(rows, []string{
			s.ID.String(),
			name,
			s.Role.String(),
			s.Input.String(),
			cropCell(s.Crop),
			s.Output.String(),
			fragmentCell(s.Fragments),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(labelStyle).
		Headers("ID", "STAGE", "ROLE", "INPUT", "CROP", "OUTPUT", "STRIPES").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row >= 0 && row < len(g.Stages) && g.Stages[row].Role == graph.RoleOutput:
				return sinkStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}

func cropCell(c graph.Crop) string {
	if c.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%d,%d,%d,%d", c.Left, c.Top, c.Right, c.Bottom)
}

func fragmentCell(set graph.FragmentSet) string {
	if len(set) == 0 {
		return "-"
	}
	widths := make([]string, 0, len(set))
	for _, f := range set {
		if f.Vanished {
			widths = append(widths, "x")
			continue
		}
		widths = append(widths, strconv.Itoa(f.OutputWidth))
	}
	return strings.Join(widths, " ")
}
