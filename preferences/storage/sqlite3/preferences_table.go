// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sqlite3

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/element-hq/roomsync/internal/sqlutil"
	"github.com/element-hq/roomsync/preferences"
)

const preferencesSchema = `
CREATE TABLE IF NOT EXISTS roomsync_preferences (
	pref_key TEXT PRIMARY KEY,
	pref_value TEXT NOT NULL,
	updated_ts BIGINT NOT NULL
);
`

const selectPreferenceSQL = `
SELECT pref_value FROM roomsync_preferences WHERE pref_key = $1
`

const upsertPreferenceSQL = `
INSERT INTO roomsync_preferences (pref_key, pref_value, updated_ts)
VALUES ($1, $2, $3)
ON CONFLICT(pref_key) DO UPDATE SET pref_value = $2, updated_ts = $3
`

const deletePreferenceSQL = `
DELETE FROM roomsync_preferences WHERE pref_key = $1
`

type preferencesStatements struct {
	selectStmt *sql.Stmt
	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
}

func newPreferencesTable(db *sql.DB) (*preferencesStatements, error) {
	if _, err := db.Exec(preferencesSchema); err != nil {
		return nil, errors.Wrap(err, "create preferences table")
	}
	s := &preferencesStatements{}
	return s, sqlutil.StatementList{
		{&s.selectStmt, selectPreferenceSQL},
		{&s.upsertStmt, upsertPreferenceSQL},
		{&s.deleteStmt, deletePreferenceSQL},
	}.Prepare(db)
}

func (s *preferencesStatements) selectPreference(ctx context.Context, txn *sql.Tx, key string) (preferences.Value, error) {
	var value string
	err := sqlutil.TxStmt(txn, s.selectStmt).QueryRowContext(ctx, key).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return preferences.Value{}, nil
	case err != nil:
		return preferences.Value{}, errors.Wrapf(err, "select preference %q", key)
	}
	return preferences.Value{Value: value, Present: true}, nil
}

func (s *preferencesStatements) upsertPreference(ctx context.Context, txn *sql.Tx, key, value string, ts int64) error {
	_, err := sqlutil.TxStmt(txn, s.upsertStmt).ExecContext(ctx, key, value, ts)
	return errors.Wrapf(err, "upsert preference %q", key)
}

func (s *preferencesStatements) deletePreference(ctx context.Context, txn *sql.Tx, key string) error {
	_, err := sqlutil.TxStmt(txn, s.deleteStmt).ExecContext(ctx, key)
	return errors.Wrapf(err, "delete preference %q", key)
}
