package rates

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Source produces a fresh table, typically by re-reading the configuration
type Source func() (*Table, error)

// Provider holds the active table. Readers take a snapshot with Current and keep using it for
// the whole operation, so a concurrent swap never mixes two tables inside one calculation.
type Provider struct {
	current atomic.Pointer[Table]
	source  Source
}

func NewProvider(initial *Table, source Source) *Provider {
	p := &Provider{source: source}
	p.current.Store(initial)
	return p
}

func (p *Provider) Current() *Table {
	return p.current.Load()
}

// Swap validates and activates the table
func (p *Provider) Swap(t *Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	previous := p.current.Swap(t)
	log.Info().
		Str("section", "rates").
		Str("method", "Swap").
		Str("previous_version", versionOf(previous)).
		Str("version", t.Version).
		Msg("Rate table activated")
	return nil
}

// Reload reads the source again and swaps the result in. The active table is kept on error.
func (p *Provider) Reload() (*Table, error) {
	if p.source == nil {
		return p.Current(), nil
	}
	t, err := p.source()
	if err != nil {
		log.Error().Err(err).Str("section", "rates").Str("method", "Reload").Msg("Unable to load rate table")
		return nil, err
	}
	if err := p.Swap(t); err != nil {
		return nil, err
	}
	return t, nil
}

func versionOf(t *Table) string {
	if t == nil {
		return ""
	}
	return t.Version
}
