package destination

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"mail-notifier/internal/models"
)

// With a complete global destination, every override resolves to a
// destination whose empty fields equal the global ones and whose set fields
// are kept.
func TestProperty_OverrideInheritance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	r := NewResolver(global, zap.NewNop())

	properties.Property("fields_inherit_independently", prop.ForAll(
		func(chatID, token string) bool {
			dests, err := r.Resolve(models.Account{
				Address:      "a@example.com",
				Destinations: []models.DestinationOverride{{Name: "x", ChatID: chatID, Token: token}},
			})
			if err != nil || len(dests) != 1 {
				return false
			}
			wantTarget, wantCred := chatID, token
			if wantTarget == "" {
				wantTarget = global.Target
			}
			if wantCred == "" {
				wantCred = global.Credential
			}
			return dests[0].Target == wantTarget && dests[0].Credential == wantCred
		},
		gen.OneGenOf(gen.Const(""), gen.NumString()),
		gen.OneGenOf(gen.Const(""), gen.AlphaString()),
	))

	properties.Property("never_empty_and_unique", prop.ForAll(
		func(chatIDs []string) bool {
			overrides := make([]models.DestinationOverride, len(chatIDs))
			for i, id := range chatIDs {
				overrides[i] = models.DestinationOverride{ChatID: id}
			}
			dests, _ := r.Resolve(models.Account{Address: "a@example.com", Destinations: overrides})
			if len(dests) == 0 {
				return false
			}
			seen := make(map[string]bool)
			for _, d := range dests {
				if seen[d.Key()] {
					return false
				}
				seen[d.Key()] = true
			}
			return true
		},
		gen.SliceOf(gen.OneGenOf(gen.Const(""), gen.Const("100"), gen.NumString())),
	))

	properties.TestingRun(t)
}
