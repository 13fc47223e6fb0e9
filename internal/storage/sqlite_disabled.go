//go:build !sqlite

package storage

import logx "pubcontrol/pkg/logx"

func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, ErrSQLiteNotBuilt
}
