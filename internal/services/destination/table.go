package destination

import (
	"go.uber.org/zap"

	"mail-notifier/internal/models"
)

// Table is an immutable account-to-destinations routing table built once
// per configuration load.
type Table struct {
	global models.Destination
	routes map[string][]models.Destination
	order  []string
}

// Build resolves every account. Configuration errors are logged per account
// and do not prevent the table from being built.
func (r *Resolver) Build(accounts []models.Account) *Table {
	t := &Table{
		global: r.global,
		routes: make(map[string][]models.Destination, len(accounts)),
	}
	for _, account := range accounts {
		dests, err := r.Resolve(account)
		if err != nil {
			r.logger.Warn("Dropped incomplete destinations",
				zap.String("account", account.Address),
				zap.Error(err))
		}
		if _, ok := t.routes[account.Address]; !ok {
			t.order = append(t.order, account.Address)
		}
		t.routes[account.Address] = dests
	}
	return t
}

// For returns the destinations for accountID, or the global default for an
// account the table does not know.
func (t *Table) For(accountID string) []models.Destination {
	if dests, ok := t.routes[accountID]; ok {
		return dests
	}
	return []models.Destination{t.global}
}

// Route is a destination together with the accounts routed to it.
type Route struct {
	Destination models.Destination
	Accounts    []string
}

// Routes groups accounts by destination, in first-seen order.
func (t *Table) Routes() []Route {
	var routes []Route
	index := make(map[string]int)
	for _, accountID := range t.order {
		for _, dest := range t.routes[accountID] {
			i, ok := index[dest.Key()]
			if !ok {
				i = len(routes)
				index[dest.Key()] = i
				routes = append(routes, Route{Destination: dest})
			}
			routes[i].Accounts = append(routes[i].Accounts, accountID)
		}
	}
	return routes
}
