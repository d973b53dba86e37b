package store

import (
	"path/filepath"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

const (
	outboxFile = "outbox.json"
	reportFile = "report.json"
)

// OutboxStore persists one OutboxRecord per provider message SID.
// Written only by the dispatch engine.
type OutboxStore = KeyedStore[domain.OutboxRecord]

// ReportStore persists the latest delivery callback per provider message SID.
// Written only by the callback receiver.
type ReportStore = KeyedStore[domain.ReportRecord]

// Tables opens the outbox and report tables under dataDir.
func Tables(dataDir string) (*OutboxStore, *ReportStore, error) {
	outbox, err := NewKeyedStore[domain.OutboxRecord](filepath.Join(dataDir, outboxFile))
	if err != nil {
		return nil, nil, err
	}

	report, err := NewKeyedStore[domain.ReportRecord](filepath.Join(dataDir, reportFile))
	if err != nil {
		return nil, nil, err
	}

	return outbox, report, nil
}
