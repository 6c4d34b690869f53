package destination

import (
	"errors"
	"strconv"

	"go.uber.org/zap"

	"mail-notifier/internal/models"
)

// Resolver maps accounts to their notification destinations, filling gaps
// in per-account overrides from the global default.
type Resolver struct {
	global models.Destination
	logger *zap.Logger
}

func NewResolver(global models.Destination, logger *zap.Logger) *Resolver {
	if global.Name == "" {
		global.Name = "global"
	}
	return &Resolver{global: global, logger: logger}
}

// Global returns the process-wide default destination.
func (r *Resolver) Global() models.Destination {
	return r.global
}

// Resolve returns the ordered, de-duplicated destinations for account. An
// override missing its target or credential inherits the global field; one
// still incomplete afterwards is dropped and reported as a
// ConfigurationError. The result is never empty.
func (r *Resolver) Resolve(account models.Account) ([]models.Destination, error) {
	if len(account.Destinations) == 0 {
		return []models.Destination{r.global}, nil
	}

	var (
		dests []models.Destination
		errs  []error
		seen  = make(map[string]bool, len(account.Destinations))
	)
	for i, override := range account.Destinations {
		dest := models.Destination{
			Name:       override.Name,
			Target:     override.ChatID,
			Credential: override.Token,
		}
		if dest.Target == "" {
			dest.Target = r.global.Target
		}
		if dest.Credential == "" {
			dest.Credential = r.global.Credential
		}
		if dest.Name == "" {
			dest.Name = defaultName(i)
		}

		if reason := incomplete(dest); reason != "" {
			errs = append(errs, &models.ConfigurationError{
				Account:     account.Address,
				Destination: dest.Name,
				Reason:      reason,
			})
			continue
		}
		if seen[dest.Key()] {
			continue
		}
		seen[dest.Key()] = true
		dests = append(dests, dest)
	}

	if len(dests) == 0 {
		dests = []models.Destination{r.global}
	}
	return dests, errors.Join(errs...)
}

func incomplete(d models.Destination) string {
	switch {
	case d.Target == "" && d.Credential == "":
		return "no chat id or token after inheritance"
	case d.Target == "":
		return "no chat id after inheritance"
	case d.Credential == "":
		return "no token after inheritance"
	}
	return ""
}

func defaultName(i int) string {
	return "override-" + strconv.Itoa(i+1)
}
