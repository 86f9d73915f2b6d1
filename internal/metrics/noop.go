package metrics

import "time"

// NoopSink discards every metric.
type NoopSink struct{}

func (NoopSink) EventAppended(bool)                              {}
func (NoopSink) EnqueueCompleted(int, int, time.Duration, error) {}
func (NoopSink) DeliveriesClaimed(int)                           {}
func (NoopSink) DeliveryAttemptCompleted(string, time.Duration)  {}
func (NoopSink) DeliveryOutcome(string)                          {}
func (NoopSink) InFlightIncr()                                   {}
func (NoopSink) InFlightDecr()                                   {}
func (NoopSink) StaleRequeued(int)                               {}
func (NoopSink) ArchiveExported(int, error)                      {}
func (NoopSink) AnalyticsCache(bool)                             {}
