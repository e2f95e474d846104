package dao

import (
	"gorm.io/gorm"
)

// SequenceStore bundles the DAOs the sequence processor reads and writes.
type SequenceStore struct {
	*SequenceDAO
	*MailDAO
	*ProfileDAO
}

func NewSequenceStore(db *gorm.DB) *SequenceStore {
	return &SequenceStore{
		SequenceDAO: NewSequenceDAO(db),
		MailDAO:     NewMailDAO(db),
		ProfileDAO:  NewProfileDAO(db),
	}
}
