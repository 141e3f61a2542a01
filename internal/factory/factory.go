package factory

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/collector"
	"FlowSpectra/internal/model"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// CollectorFactory creates one protocol collector.
type CollectorFactory func(settings collector.Settings) model.Collector

// WriterFactory creates one snapshot writer from its config block.
type WriterFactory func(cfg config.WriterConfig) (model.Writer, error)

// registries hold the mapping of names to their factory functions.
var (
	collectors = make(map[string]CollectorFactory)
	writers    = make(map[string]WriterFactory)
)

// RegisterCollector registers a new collector type with its factory function.
func RegisterCollector(name string, factory CollectorFactory) {
	if _, exists := collectors[name]; exists {
		panic(fmt.Sprintf("collector type '%s' already registered", name))
	}
	collectors[name] = factory
}

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := writers[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	writers[name] = factory
}

// Collectors lists the registered collector names.
func Collectors() []string {
	names := make([]string, 0, len(collectors))
	for name := range collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Settings converts the collectors config block.
func Settings(cfg *config.Config, resolver collector.Resolver) (collector.Settings, error) {
	addrs, err := cfg.Collectors.Addresses()
	if err != nil {
		return collector.Settings{}, err
	}
	s := collector.Settings{
		RetainFlows:    cfg.Collectors.RetainFlows,
		FlowTimeout:    config.Duration(cfg.Collectors.FlowTimeout),
		SynTimeout:     config.Duration(cfg.Collectors.SynTimeout),
		DNSTimeout:     config.Duration(cfg.Collectors.DNSTimeout),
		TimeWait:       config.Duration(cfg.Collectors.TimeWait),
		LocalAddresses: addrs,
		Resolver:       resolver,
	}
	return s.WithDefaults(), nil
}

// CreateCollectors creates the collectors enabled in the config.
func CreateCollectors(cfg *config.Config, settings collector.Settings) ([]model.Collector, error) {
	var created []model.Collector

	for _, name := range cfg.Collectors.Enabled {
		log.Printf("Creating collector: '%s'", name)

		factory, ok := collectors[name]
		if !ok {
			return nil, fmt.Errorf("unknown collector type: '%s'", name)
		}
		created = append(created, factory(settings))
	}

	return created, nil
}

// CreateWriters creates the enabled writers. Writers created before a
// failure are closed.
func CreateWriters(cfg *config.Config) ([]model.Writer, error) {
	var created []model.Writer

	for _, wc := range cfg.Exporter.Writers {
		if !wc.Enabled {
			continue
		}
		log.Printf("Creating writer: '%s'", wc.Type)

		factory, ok := writers[wc.Type]
		if !ok {
			return nil, multierr.Append(fmt.Errorf("unknown writer type: '%s'", wc.Type), CloseWriters(created))
		}
		w, err := factory(wc)
		if err != nil {
			err = fmt.Errorf("error creating writer type '%s': %w", wc.Type, err)
			return nil, multierr.Append(err, CloseWriters(created))
		}
		created = append(created, w)
	}

	return created, nil
}

// CloseWriters closes every writer and combines their errors.
func CloseWriters(ws []model.Writer) error {
	var err error
	for _, w := range ws {
		err = multierr.Append(err, w.Close())
	}
	return err
}
