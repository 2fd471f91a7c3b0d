package cdc

import "time"

type SubscriberConfig struct {
	Slot        string `yaml:"slot"`
	Publication string `yaml:"publication"`
	// MaxInFlight bounds concurrently running handlers within one transaction.
	MaxInFlight int `yaml:"max_in_flight"`
	// DispatchUpdates delivers UPDATE row changes like inserts. Retry
	// redelivery depends on it, since a retry is written as a ttl update.
	DispatchUpdates bool `yaml:"dispatch_updates"`
	// StatusInterval is how often the last acknowledged position is resent
	// while the stream is idle.
	StatusInterval time.Duration `yaml:"status_interval"`
}

func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		Slot:            "events_slot",
		Publication:     "events_pub",
		MaxInFlight:     64,
		DispatchUpdates: true,
		StatusInterval:  10 * time.Second,
	}
}

func (c SubscriberConfig) withDefaults() SubscriberConfig {
	def := DefaultSubscriberConfig()
	if c.Slot == "" {
		c.Slot = def.Slot
	}
	if c.Publication == "" {
		c.Publication = def.Publication
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = def.MaxInFlight
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	return c
}
