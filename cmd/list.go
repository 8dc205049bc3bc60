package cmd

import (
	"context"
	"io"

	"github.com/spiffcs/testdeck/internal/model"
	"github.com/spiffcs/testdeck/internal/output"
	"github.com/spiffcs/testdeck/internal/pager"
	"github.com/spiffcs/testdeck/internal/query"
	"github.com/spiffcs/testdeck/internal/tui"
)

// listing describes one paginated screen.
type listing[T model.Resource] struct {
	title   string
	pager   *pager.Pager[T]
	columns []tui.Column[T]
	write   func(output.Formatter, pager.State[T], io.Writer) error
	actions []tui.Action[T]
}

// showList renders the listing in the interactive browser, or prints the
// requested page once through the formatter.
func showList[T model.Resource](ctx context.Context, rt *appRuntime, l listing[T], w io.Writer) error {
	defer l.pager.Close()

	if rt.useTUI {
		sess := rt.session
		opts := []tui.ListOption[T]{
			tui.WithLive[T](sess.ProgressCurrent),
			tui.WithOnLoad[T](func(k query.Key) {
				sess.Track(sess.Cache().Get(k).Data)
			}),
		}
		for _, a := range l.actions {
			opts = append(opts, tui.WithAction(a))
		}
		return tui.RunList(ctx, l.title, l.pager, l.columns, opts...)
	}

	if err := l.pager.Load(ctx); err != nil {
		return err
	}
	return l.write(rt.formatter(), l.pager.State(), w)
}

// pagerOptions applies --page and --limit.
func (rt *appRuntime) pagerOptions() []pager.Option {
	return []pager.Option{
		pager.WithPageSize(rt.limit),
		pager.WithPageIndex(rt.pageIndex()),
	}
}
