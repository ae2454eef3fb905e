package storage

import "pairLedger/internal/model"

// Storage defines a sink for log records.
type Storage interface {
	PutLogBatch(logs []model.LogRecord) error
}

// Multi fans a batch out to every sink in order and stops at the first error.
type Multi []Storage

// PutLogBatch writes logs to each sink.
func (m Multi) PutLogBatch(logs []model.LogRecord) error {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PutLogBatch(logs); err != nil {
			return err
		}
	}
	return nil
}
