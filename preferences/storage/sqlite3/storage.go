// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sqlite3

import (
	"context"
	"database/sql"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/element-hq/roomsync/preferences"
)

// Database is a preferences.Store persisted in SQLite.
type Database struct {
	preferences.Watchers
	db    *sql.DB
	table *preferencesStatements
}

// Open opens (and creates if needed) the SQLite database at the data
// source name, e.g. "file:preferences.db".
func Open(dataSourceName string) (*Database, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, err
	}
	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	d, err := NewDatabase(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// NewDatabase prepares the preferences table on an existing connection.
func NewDatabase(db *sql.DB) (*Database, error) {
	table, err := newPreferencesTable(db)
	if err != nil {
		return nil, err
	}
	return &Database{db: db, table: table}, nil
}

func (d *Database) Get(ctx context.Context, key string) (preferences.Value, error) {
	return d.table.selectPreference(ctx, nil, key)
}

func (d *Database) Set(ctx context.Context, key, value string) error {
	return d.Update(key, func() (preferences.Value, error) {
		if err := d.table.upsertPreference(ctx, nil, key, value, time.Now().UnixMilli()); err != nil {
			return preferences.Value{}, err
		}
		logrus.WithField("key", key).Debug("Stored preference")
		return preferences.Value{Value: value, Present: true}, nil
	})
}

func (d *Database) Delete(ctx context.Context, key string) error {
	return d.Update(key, func() (preferences.Value, error) {
		if err := d.table.deletePreference(ctx, nil, key); err != nil {
			return preferences.Value{}, err
		}
		logrus.WithField("key", key).Debug("Deleted preference")
		return preferences.Value{}, nil
	})
}

func (d *Database) Watch(ctx context.Context, key string) (<-chan preferences.Value, error) {
	return d.Add(ctx, key, func() (preferences.Value, error) {
		return d.Get(ctx, key)
	})
}

// Close closes the underlying database.
func (d *Database) Close() error {
	return d.db.Close()
}
