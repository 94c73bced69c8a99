package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// where accumulates positional-argument conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) timeRange(column string, opts domain.ListOpts) {
	if opts.Since != nil {
		w.add(column+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		w.add(column+" <= $%d", *opts.Until)
	}
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page appends LIMIT/OFFSET for opts.
func (w *where) page(opts domain.ListOpts) string {
	var b strings.Builder
	if opts.Limit > 0 {
		w.args = append(w.args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if opts.Offset > 0 {
		w.args = append(w.args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}
