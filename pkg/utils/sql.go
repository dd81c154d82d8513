package utils

import "gorm.io/gorm"

// DBOption rewrites the gorm handle a repository method runs on. The unit of
// work passes WithTx so multiple repository writes share one transaction.
type DBOption func(*gorm.DB) *gorm.DB

func ApplyOptions(db *gorm.DB, opts ...DBOption) *gorm.DB {
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}

func WithTx(tx *gorm.DB) DBOption {
	return func(_ *gorm.DB) *gorm.DB {
		return tx
	}
}
