package digest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/revenue-digest/internal/model"
)

// Formatter renders an aggregate as the chat message.
type Formatter struct {
	Header   string
	Currency string
}

// DefaultFormatter returns the formatter used when none is configured.
func DefaultFormatter() Formatter {
	return Formatter{Header: "Revenue for yesterday:", Currency: "rub"}
}

// Format writes the header line followed by one line per owner, ordered by
// owner name. An empty aggregate yields the header line alone.
func (f Formatter) Format(agg model.ManagerAggregate) string {
	var b strings.Builder
	b.WriteString(f.Header)
	b.WriteString("\n")

	for _, name := range SortedOwners(agg) {
		fmt.Fprintf(&b, "Manager %s: %d %s.\n", name, agg[name].Revenue, f.Currency)
	}
	return b.String()
}

// SortedOwners returns the aggregate's owner names in ascending order.
func SortedOwners(agg model.ManagerAggregate) []string {
	names := make([]string, 0, len(agg))
	for name := range agg {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
