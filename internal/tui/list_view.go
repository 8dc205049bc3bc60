package tui

import (
	"fmt"
	"strings"

	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/format"
	"github.com/spiffcs/testdeck/internal/model"
)

// renderListView renders the complete list view
func renderListView[T model.Resource](m ListModel[T]) string {
	var b strings.Builder
	st := m.state
	live := m.live()

	b.WriteString("\n")
	b.WriteString(renderTitle(m.title, st.Total, st.IsLoading, live))
	b.WriteString("\n\n")

	if len(st.Items) == 0 {
		switch {
		case st.Err != nil:
			b.WriteString(errorStyle.Render("  " + st.Err.Error()))
		case st.IsLoading || !m.loaded:
			b.WriteString(listEmptyStyle.Render("  Loading..."))
		default:
			b.WriteString(listEmptyStyle.Render("  Nothing here yet."))
		}
		b.WriteString("\n\n")
		b.WriteString(renderHelp(m.actions))
		return b.String()
	}

	b.WriteString(renderHeader(m.columns))
	b.WriteString("\n")
	b.WriteString(listSeparatorStyle.Render(strings.Repeat("─", tableWidth(m.columns))))
	b.WriteString("\n")

	availableHeight := m.windowHeight - constants.HeaderLines - constants.FooterLines - 3
	start, end := calculateScrollWindow(m.cursor, len(st.Items), availableHeight)
	for i := start; i < end; i++ {
		b.WriteString(renderRow(m.columns, st.Items[i], i == m.cursor, live))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(renderPageLine(st.PageIndex, st.PageCount, st.PageSize, st.HasPrev(), st.HasNext()))
	b.WriteString("\n")
	b.WriteString(renderHelp(m.actions))

	if st.Err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Refresh failed: " + st.Err.Error()))
	}
	if m.statusMsg != "" {
		b.WriteString("\n")
		b.WriteString(listStatusStyle.Render(m.statusMsg))
	}

	return b.String()
}

func renderTitle(title string, total int, loading, live bool) string {
	s := listTitleStyle.Render(fmt.Sprintf("%s (%d)", title, total))
	if loading {
		s += " " + messageStyle.Render("refreshing")
	}
	if !live {
		s += " " + warnStyle.Render("live progress unavailable")
	}
	return s
}

// calculateScrollWindow keeps the cursor inside a window of viewHeight rows.
func calculateScrollWindow(cursor, total, viewHeight int) (start, end int) {
	if viewHeight <= 0 || total <= viewHeight {
		return 0, total
	}
	start = max(cursor-viewHeight/2, 0)
	end = start + viewHeight
	if end > total {
		end = total
		start = max(end-viewHeight, 0)
	}
	return start, end
}

func renderHeader[T model.Resource](columns []Column[T]) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = format.Fit(c.Title, c.Width)
	}
	return "  " + listHeaderStyle.Render(strings.Join(parts, "  "))
}

func tableWidth[T model.Resource](columns []Column[T]) int {
	w := 2
	for _, c := range columns {
		w += c.Width + 2
	}
	return w - 2
}

func renderRow[T model.Resource](columns []Column[T], item T, selected, live bool) string {
	placeholder := model.IsPlaceholder(item.ResourceID())
	parts := make([]string, len(columns))
	for i, c := range columns {
		cell := format.Fit(c.Value(item, live), c.Width)
		switch {
		case placeholder:
			cell = applyStyle(listPlaceholderStyle, cell, selected)
		case c.Status != nil:
			cell = applyStyle(statusStyle(c.Status(item)), cell, selected)
		}
		parts[i] = cell
	}
	row := strings.Join(parts, "  ")
	if selected {
		return listCursorStyle.Render("▸ ") + listSelectedStyle.Render(row)
	}
	return "  " + row
}

func renderPageLine(index, count, size int, hasPrev, hasNext bool) string {
	if count == 0 {
		count = 1
	}
	prev, next := " ", " "
	if hasPrev {
		prev = "‹"
	}
	if hasNext {
		next = "›"
	}
	return listHelpStyle.Render(fmt.Sprintf("%s page %d/%d %s   %d per page", prev, index+1, count, next, size))
}

// renderHelp renders the help text
func renderHelp[T model.Resource](actions []Action[T]) string {
	help := "j/k: nav   n/p: page   r: refresh"
	for _, a := range actions {
		help += fmt.Sprintf("   %s: %s", a.Key, a.Help)
	}
	return listHelpStyle.Render(help + "   q: quit")
}
