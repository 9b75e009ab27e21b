package repomanager

import recs "github.com/dmitrijs2005/servicetracker/internal/records"

func recordsFixture() recs.Record {
	return recs.Record{Timestamp: "2025-01-01 10:00:00", Student: "A", Service: "Speech", SchemaVersion: 1}
}
