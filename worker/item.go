package worker

import (
	"net/url"
	"strings"

	"github.com/grafana/regexp"

	"github.com/steve-o/hitsuji/analytic"
)

// symbolSyntax accepts RIC style symbols such as MSFT.O, EUR= or .SPX.
var symbolSyntax = regexp.MustCompile(`^[A-Za-z0-9._=^!@+\-]{1,64}$`)

type parsedItem struct {
	symbol   string
	kind     analytic.Kind
	query    string
	hasQuery bool
}

// parseItem reads an item name as the path of a URL: the last path segment
// is the symbol, the query carries analytic parameters and the fragment
// selects the analytic, e.g. "MSFT.O?open=1383742800#rollup".
func parseItem(itemName []byte) (parsedItem, bool) {
	u, err := url.Parse("null://localhost/" + string(itemName))
	if err != nil {
		return parsedItem{}, false
	}
	symbol := u.Path[strings.LastIndexByte(u.Path, '/')+1:]
	if !symbolSyntax.MatchString(symbol) {
		return parsedItem{}, false
	}
	kind, err := analytic.ParseKind(u.Fragment)
	if err != nil {
		return parsedItem{}, false
	}
	return parsedItem{
		symbol:   symbol,
		kind:     kind,
		query:    u.RawQuery,
		hasQuery: u.RawQuery != "" || u.ForceQuery,
	}, true
}
